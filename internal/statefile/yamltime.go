package statefile

import "time"

// yamlTime wraps time.Time so it marshals/unmarshals as an RFC3339 scalar
// under gopkg.in/yaml.v3, matching the timestamp rendering used throughout
// state.yaml and job metadata (spec §6.1).
type yamlTime struct {
	Time time.Time
}

func (t yamlTime) MarshalYAML() (any, error) {
	return t.Time.UTC().Format(time.RFC3339Nano), nil
}

func (t *yamlTime) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		parsed, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return err
		}
	}
	t.Time = parsed
	return nil
}
