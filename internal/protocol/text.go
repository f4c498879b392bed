package protocol

import "fmt"

// MarshalText renders the stage name in JSON.
func (s Stage) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText parses a stage name.
func (s *Stage) UnmarshalText(b []byte) error {
	for i, name := range stageNames {
		if name == string(b) {
			*s = Stage(i)
			return nil
		}
	}
	return fmt.Errorf("unknown stage %q", b)
}

// MarshalText renders the outcome name in JSON.
func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// UnmarshalText parses an outcome name.
func (o *Outcome) UnmarshalText(b []byte) error {
	for _, c := range []Outcome{OutcomeInProgress, OutcomeCommitted, OutcomeAborted, OutcomeRejected} {
		if c.String() == string(b) {
			*o = c
			return nil
		}
	}
	return fmt.Errorf("unknown outcome %q", b)
}

// MarshalText renders the role name in JSON.
func (r Role) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// UnmarshalText parses a role name.
func (r *Role) UnmarshalText(b []byte) error {
	switch string(b) {
	case "CLIENT":
		*r = RoleClient
	case "SERVER":
		*r = RoleServer
	default:
		return fmt.Errorf("unknown role %q", b)
	}
	return nil
}
