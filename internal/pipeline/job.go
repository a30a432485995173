package pipeline

import (
	"fmt"
	"strings"

	"engagement-sync/internal/domain"
)

type Destination string

const (
	DestArchive Destination = "archive"
	DestMirror  Destination = "mirror"
	DestSheets  Destination = "sheets"
)

// order is the execution order of destinations within one job; mirror ships
// what archive just wrote.
var order = map[Destination]int{DestArchive: 0, DestMirror: 1, DestSheets: 2}

// DataSelection picks what a dashboard job publishes.
type DataSelection string

const (
	DataBoth     DataSelection = "both"
	DataProfiles DataSelection = "profiles"
	DataProblems DataSelection = "problems"
)

func (d DataSelection) profiles() bool { return d == DataBoth || d == DataProfiles }
func (d DataSelection) problems() bool { return d == DataBoth || d == DataProblems }

// Job is one course's work for a run.
type Job struct {
	Course       domain.CourseCode
	Partner      string
	Data         DataSelection
	Destinations []Destination
}

func (j Job) has(d Destination) bool {
	for _, x := range j.Destinations {
		if x == d {
			return true
		}
	}
	return false
}

// ArchiveJob archives course, mirroring the master when mirror is set.
func ArchiveJob(course string, mirror bool) Job {
	j := Job{Course: domain.NormalizeCourse(course), Destinations: []Destination{DestArchive}}
	if mirror {
		j.Destinations = append(j.Destinations, DestMirror)
	}
	return j
}

// ParseDashboard reads COURSE:PARTNER[:DATA], e.g. "IMP:NSPP1:problems".
// DATA defaults to both.
func ParseDashboard(s string) (Job, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
		return Job{}, &domain.ConfigurationError{Key: s, Reason: "want COURSE:PARTNER[:DATA]"}
	}
	j := Job{
		Course:       domain.NormalizeCourse(parts[0]),
		Partner:      strings.ToUpper(strings.TrimSpace(parts[1])),
		Data:         DataBoth,
		Destinations: []Destination{DestSheets},
	}
	if len(parts) == 3 {
		j.Data = DataSelection(strings.ToLower(strings.TrimSpace(parts[2])))
	}
	switch j.Data {
	case DataBoth, DataProfiles, DataProblems:
	default:
		return Job{}, &domain.ConfigurationError{Key: s, Reason: fmt.Sprintf("unknown data selection %q", j.Data)}
	}
	return j, nil
}
