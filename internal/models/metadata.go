package models

// Well-known metadata keys.
const (
	MetaExternalID     = "externalId"
	MetaError          = "error"
	MetaVoiceCall      = "voiceCall"
	MetaCallType       = "callType"
	MetaEmailSubject   = "emailSubject"
	MetaEmailInReplyTo = "emailInReplyTo"
	MetaEmailRefs      = "emailReferences"
	MetaSlackChannel   = "slackChannel"
	MetaSlackThreadTs  = "slackThreadTs"
	MetaVendorStatus   = "vendorStatus"
	MetaSenderName     = "senderName"
)

// Metadata is the free-form side channel stored as jsonb.
type Metadata map[string]any

// Merge returns a copy of m with every key of patch written over it.
// Keys of m not present in patch are kept.
func (m Metadata) Merge(patch Metadata) Metadata {
	out := make(Metadata, len(m)+len(patch))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

func (m Metadata) String(key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func (m Metadata) Bool(key string) bool {
	if m == nil {
		return false
	}
	b, _ := m[key].(bool)
	return b
}
