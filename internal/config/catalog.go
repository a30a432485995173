package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"engagement-sync/internal/domain"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Catalog is the declarative course mapping: course code to spreadsheet per
// partner, archive field set and filter policy.
type Catalog struct {
	CourseIDFormat string              `yaml:"course_id_format"`
	FieldSets      map[string][]string `yaml:"field_sets"`
	Ranges         Ranges              `yaml:"ranges"`
	Archive        ArchivePolicy       `yaml:"archive"`
	Courses        map[string]Course   `yaml:"courses"`
	Runs           Runs                `yaml:"runs"`
}

type Ranges struct {
	Profiles string `yaml:"profiles"`
	Problems string `yaml:"problems"`
}

// ArchivePolicy selects the fields archived for a course and the learner
// segment filters sent with the fetch.
type ArchivePolicy struct {
	FieldSet       string   `yaml:"field_set"`
	Segments       []string `yaml:"segments"`
	IgnoreSegments []string `yaml:"ignore_segments"`
}

type Course struct {
	Title   string            `yaml:"title"`
	Sheets  map[string]string `yaml:"sheets"`
	Archive *ArchivePolicy    `yaml:"archive"`
}

// Runs holds the fixed lists used when a command is given no arguments.
// Dashboards entries are COURSE:PARTNER[:DATA].
type Runs struct {
	Archive    []string `yaml:"archive"`
	Dashboards []string `yaml:"dashboards"`
}

// LoadCatalog reads the catalog at path, or the embedded default when path is
// empty.
func LoadCatalog(path string) (*Catalog, error) {
	b := defaultCatalog
	if path != "" {
		var err error
		b, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("catalog: read %s: %w", path, err)
		}
	}
	return ParseCatalog(b)
}

func ParseCatalog(b []byte) (*Catalog, error) {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	var c Catalog
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("catalog: parse: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) Validate() error {
	if c.CourseIDFormat == "" || !strings.Contains(c.CourseIDFormat, "%s") {
		return &domain.ConfigurationError{Key: "course_id_format", Reason: "must contain %s"}
	}
	if len(c.Courses) == 0 {
		return &domain.ConfigurationError{Key: "courses", Reason: "no courses defined"}
	}
	for code, course := range c.Courses {
		if string(domain.NormalizeCourse(code)) != code {
			return &domain.ConfigurationError{Key: code, Reason: "course codes must be upper-case"}
		}
		if _, err := c.Fields(c.policy(course).FieldSet); err != nil {
			return err
		}
	}
	for _, code := range c.Runs.Archive {
		if _, ok := c.Courses[code]; !ok {
			return &domain.ConfigurationError{Key: code, Reason: "runs.archive names an unknown course"}
		}
	}
	return nil
}

// Course looks a course up by code (case-insensitive).
func (c *Catalog) Course(code domain.CourseCode) (Course, error) {
	course, ok := c.Courses[string(domain.NormalizeCourse(string(code)))]
	if !ok {
		return Course{}, &domain.ConfigurationError{Key: string(code), Reason: "unknown course"}
	}
	return course, nil
}

// CourseCodes returns every catalog course, sorted.
func (c *Catalog) CourseCodes() []domain.CourseCode {
	out := make([]domain.CourseCode, 0, len(c.Courses))
	for code := range c.Courses {
		out = append(out, domain.CourseCode(code))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ArchiveRun is the course list an argument-less archive run covers: the
// configured runs.archive list, or every catalog course when that is empty.
func (c *Catalog) ArchiveRun() []string {
	if len(c.Runs.Archive) > 0 {
		return c.Runs.Archive
	}
	codes := c.CourseCodes()
	out := make([]string, len(codes))
	for i, code := range codes {
		out[i] = string(code)
	}
	return out
}

// CourseID expands a course code into the analytics API course identifier.
func (c *Catalog) CourseID(code domain.CourseCode) string {
	return fmt.Sprintf(c.CourseIDFormat, string(code))
}

func (c *Catalog) Fields(set string) ([]string, error) {
	fields, ok := c.FieldSets[set]
	if !ok || len(fields) == 0 {
		return nil, &domain.ConfigurationError{Key: set, Reason: "unknown or empty field set"}
	}
	return fields, nil
}

// ArchivePolicy returns the course's own policy when it has one, the default
// otherwise.
func (c *Catalog) ArchivePolicy(code domain.CourseCode) (ArchivePolicy, error) {
	course, err := c.Course(code)
	if err != nil {
		return ArchivePolicy{}, err
	}
	return c.policy(course), nil
}

func (c *Catalog) policy(course Course) ArchivePolicy {
	if course.Archive == nil {
		return c.Archive
	}
	p := *course.Archive
	if p.FieldSet == "" {
		p.FieldSet = c.Archive.FieldSet
	}
	return p
}

// SpreadsheetID resolves the dashboard spreadsheet a partner uses for a course.
func (c *Catalog) SpreadsheetID(code domain.CourseCode, partner string) (string, error) {
	course, err := c.Course(code)
	if err != nil {
		return "", err
	}
	id, ok := course.Sheets[strings.ToUpper(strings.TrimSpace(partner))]
	if !ok || id == "" {
		return "", &domain.ConfigurationError{Key: fmt.Sprintf("%s_%s", code, partner), Reason: "no dashboard for partner"}
	}
	return id, nil
}
