package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// FormatForCLI formats an error for terminal display.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	var fe *FusionError
	if !errors.As(err, &fe) {
		return fmt.Sprintf("Error: %s\n", err.Error())
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Error: %s\n", fe.Message)
	if fe.Source != "" {
		fmt.Fprintf(&sb, "  source: %s\n", fe.Source)
	}

	keys := make([]string, 0, len(fe.Details))
	for k := range fe.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, "  %s: %s\n", k, fe.Details[k])
	}

	if hint := hintFor(fe.Code); hint != "" {
		fmt.Fprintf(&sb, "\nHint: %s\n", hint)
	}
	fmt.Fprintf(&sb, "[%s]\n", fe.Code)
	return sb.String()
}

func hintFor(code string) string {
	switch code {
	case ErrCodeInvalidInput:
		return "routing weights must be non-negative and at least one must be positive"
	case ErrCodeAllSourcesFailed:
		return "check that the stores are seeded and reachable, or raise fusion.source_timeout"
	case ErrCodeSnapshotNotFound:
		return "run 'amanrag community build' to produce a community snapshot"
	case ErrCodeConfigInvalid:
		return "run 'amanrag config show' to inspect the effective configuration"
	default:
		return ""
	}
}
