package models

import "time"

// ApplicationInput is the client supplied part of an application. Fields the
// server assigns (applicationId, submissionDate, status, academicYear,
// semester) are deliberately absent so a body can never set them.
//
// String fields use omitempty so an empty required value reaches the schema
// as a missing property.
type ApplicationInput struct {
	TCNo            string                 `json:"tcNo,omitempty"`
	FullName        string                 `json:"fullName,omitempty"`
	Branch          string                 `json:"branch,omitempty"`
	Email           string                 `json:"email,omitempty"`
	Phone           string                 `json:"phone,omitempty"`
	WeeklyHours     *float64               `json:"weeklyHours,omitempty"`
	CertificateDate string                 `json:"certificateDate,omitempty"`
	NormStatus      string                 `json:"normStatus,omitempty"`
	Preferences     map[string]interface{} `json:"preferences,omitempty"`
	SpecialRequest  string                 `json:"specialRequest,omitempty"`
	TeacherDate     string                 `json:"teacherDate,omitempty"`

	// Invalid holds submitted values that could not be cast to their
	// field's type. Validation reports them; they are never stored.
	Invalid map[string]interface{} `json:"-"`
}

// Application is the stored document.
type Application struct {
	ID string `json:"-"`

	ApplicationInput

	ApplicationID  string    `json:"applicationId"`
	SubmissionDate time.Time `json:"submissionDate"`
	AcademicYear   string    `json:"academicYear"`
	Semester       string    `json:"semester"`
	Status         string    `json:"status"`
}

// ApplicationDefaults are stamped onto every new document.
type ApplicationDefaults struct {
	IDPrefix     string
	AcademicYear string
	Semester     string
	Status       string
}
