package commsutil

import "strings"

// Default COMMS subjects.
const (
	SubjectNodeRegistered = "broker.nodes.registered"
	SubjectCallTimedOut   = "broker.calls.timeout"
)

// BuildNodeRegisteredSubject builds the per-type registration subject.
// Dots in the type name are flattened so the name stays one subject token.
func BuildNodeRegisteredSubject(typeName string) string {
	return SubjectNodeRegistered + "." + subjectToken(typeName)
}

// BuildNodeRegisteredSubjectWith is BuildNodeRegisteredSubject under a custom base subject.
func BuildNodeRegisteredSubjectWith(base, typeName string) string {
	if base == "" {
		base = SubjectNodeRegistered
	}
	return base + "." + subjectToken(typeName)
}

func subjectToken(s string) string {
	r := strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_")
	return r.Replace(s)
}
