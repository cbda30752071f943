package models

import (
	"encoding/json"
	"fmt"
)

// JobKind identifies the administrative operation a job performs
type JobKind string

// Job kind constants
const (
	JobKindAccountCreation        JobKind = "account-creation"
	JobKindGroupAccessGrant       JobKind = "group-access-grant"
	JobKindSoftwareInstall        JobKind = "software-install"
	JobKindCredentialReset        JobKind = "credential-reset"
	JobKindChannelProvision       JobKind = "channel-provision"
	JobKindMonitoringRegistration JobKind = "monitoring-registration"
	JobKindFileShareAccess        JobKind = "file-share-access"
)

var jobKinds = []JobKind{
	JobKindAccountCreation,
	JobKindGroupAccessGrant,
	JobKindSoftwareInstall,
	JobKindCredentialReset,
	JobKindChannelProvision,
	JobKindMonitoringRegistration,
	JobKindFileShareAccess,
}

// AllJobKinds returns every known job kind
func AllJobKinds() []JobKind {
	out := make([]JobKind, len(jobKinds))
	copy(out, jobKinds)
	return out
}

// ParseJobKind converts a string to a JobKind
func ParseJobKind(str string) (JobKind, error) {
	for _, k := range jobKinds {
		if string(k) == str {
			return k, nil
		}
	}
	return "", fmt.Errorf("invalid job kind: %s", str)
}

// Valid reports whether k is a known job kind
func (k JobKind) Valid() bool {
	_, err := ParseJobKind(string(k))
	return err == nil
}

func (k JobKind) String() string {
	return string(k)
}

// UnmarshalJSON implements json.Unmarshaler for JobKind
func (k *JobKind) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}

	kind, err := ParseJobKind(str)
	if err != nil {
		return err
	}

	*k = kind
	return nil
}

// Payload holds the operation parameters of a job. The scheduler treats it as opaque.
type Payload map[string]string

// Clone returns a copy of the payload
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
