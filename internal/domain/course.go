package domain

import "strings"

// CourseCode is the short code a course is known by across the archive,
// the dashboards and the catalog ("AGG", "SYS", ...).
type CourseCode string

// Known course codes. The catalog is the authority on which of these are
// active; the list here only documents the codes the archive has seen.
const (
	CourseAGG CourseCode = "AGG" // Aggregating Evidence
	CourseCBA CourseCode = "CBA" // Cost-Benefit Analysis
	CourseCOM CourseCode = "COM" // Commissioning Evidence
	CourseDES CourseCode = "DES" // Descriptive Evidence
	CourseIMP CourseCode = "IMP" // Impact Evaluations
	CourseSYS CourseCode = "SYS" // Systematic Approaches to Policy Decisions
	CourseDTA CourseCode = "DTA"
)

// NormalizeCourse upper-cases and trims a user supplied course code.
func NormalizeCourse(s string) CourseCode {
	return CourseCode(strings.ToUpper(strings.TrimSpace(s)))
}

func (c CourseCode) String() string { return string(c) }
