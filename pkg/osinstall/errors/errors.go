package errors

import (
	"errors"
	"fmt"
)

// Category classifies installer failures. Each category maps to a
// distinct process exit code so provisioning pipelines can react
// without parsing log text.
type Category string

const (
	CategoryIntegrity   Category = "integrity"
	CategorySchema      Category = "schema"
	CategoryReference   Category = "reference"
	CategoryPlan        Category = "plan"
	CategoryDevice      Category = "device"
	CategoryRaid        Category = "raid"
	CategoryFilesystem  Category = "filesystem"
	CategoryMount       Category = "mount"
	CategorySync        Category = "sync"
	CategoryResolution  Category = "resolution"
	CategoryPostInstall Category = "postinstall"
)

var exitCodes = map[Category]int{
	CategoryIntegrity:   2,
	CategorySchema:      3,
	CategoryReference:   4,
	CategoryPlan:        5,
	CategoryDevice:      6,
	CategoryRaid:        7,
	CategoryFilesystem:  8,
	CategoryMount:       9,
	CategorySync:        10,
	CategoryResolution:  11,
	CategoryPostInstall: 12,
}

// ExitCode returns the process exit code for the category, 1 when the
// category is unknown.
func (c Category) ExitCode() int {
	if code, ok := exitCodes[c]; ok {
		return code
	}
	return 1
}

// InstallError ties a failure to its component category and, once the
// orchestrator has annotated it, to the last completed state.
type InstallError struct {
	Category Category
	State    string
	Err      error
}

func (e *InstallError) Error() string {
	if e.State != "" {
		return fmt.Sprintf("%s error (last completed state %s): %v", e.Category, e.State, e.Err)
	}
	return fmt.Sprintf("%s error: %v", e.Category, e.Err)
}

func (e *InstallError) Unwrap() error {
	return e.Err
}

func New(category Category, err error) error {
	if err == nil {
		return nil
	}
	return &InstallError{Category: category, Err: err}
}

func Newf(category Category, format string, args ...interface{}) error {
	return &InstallError{Category: category, Err: fmt.Errorf(format, args...)}
}

// WithState stamps the last completed orchestrator state onto err. An
// uncategorized error is wrapped so the state still reaches the
// terminal diagnostic.
func WithState(err error, state string) error {
	if err == nil {
		return nil
	}
	var ie *InstallError
	if errors.As(err, &ie) {
		ie.State = state
		return err
	}
	return &InstallError{State: state, Err: err}
}

// CategoryOf walks the error chain for an InstallError category,
// returning "" when none is found.
func CategoryOf(err error) Category {
	var ie *InstallError
	if errors.As(err, &ie) {
		return ie.Category
	}
	return ""
}

// ExitCode maps any error to its process exit code. Nil means success.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return CategoryOf(err).ExitCode()
}
