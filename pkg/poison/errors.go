package poison

import (
	"fmt"
	"strings"
)

// ConfigurationError reports an unsupported algorithm choice or an invalid
// parameter. It is returned before any class is processed.
type ConfigurationError struct {
	// Param is the offending parameter name.
	Param string
	// Value is the rejected value.
	Value string
	// Supported lists the valid values for closed enumerations, if any.
	Supported []string
}

func (e *ConfigurationError) Error() string {
	if len(e.Supported) > 0 {
		return fmt.Sprintf("%s %q not supported, must be one of: %s",
			e.Param, e.Value, strings.Join(e.Supported, ", "))
	}
	return fmt.Sprintf("invalid %s: %s", e.Param, e.Value)
}

// InsufficientDataError reports a class whose activation matrix cannot
// support the requested clustering: it is empty, or has fewer rows than
// the requested cluster count.
type InsufficientDataError struct {
	// Class is the index of the offending class.
	Class int
	// Rows is the class's activation row count.
	Rows int
	// Required is the minimum row count the configuration needs.
	Required int
}

func (e *InsufficientDataError) Error() string {
	if e.Rows == 0 {
		return fmt.Sprintf("class %d has an empty activation matrix", e.Class)
	}
	return fmt.Sprintf("class %d has %d samples, too few for %d clusters",
		e.Class, e.Rows, e.Required)
}
