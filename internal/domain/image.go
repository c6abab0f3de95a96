package domain

import "time"

// Status enumerates the lifecycle states of an uploaded photo.
type Status string

const (
	StatusIdle       Status = "IDLE"
	StatusUploading  Status = "UPLOADING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// ImageRecord is one uploaded photo together with its enhancement results.
//
// OriginalKey, EnhancedKey and every VersionRecord.Key are blob keys owned
// exclusively by the record. They are released when the record is removed.
type ImageRecord struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	MIME            string          `json:"mime"`
	OriginalKey     string          `json:"original_key"`
	EnhancedKey     string          `json:"enhanced_key,omitempty"`
	EnhancedOptions Options         `json:"enhanced_options"`
	EnhancedAt      time.Time       `json:"enhanced_at"`
	Status          Status          `json:"status"`
	Error           string          `json:"error,omitempty"`
	Selected        bool            `json:"selected"`
	History         []VersionRecord `json:"history"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// VersionRecord is a superseded enhancement result kept for comparison and revert.
type VersionRecord struct {
	ID         string     `json:"id"`
	Key        string     `json:"key"`
	Timestamp  time.Time  `json:"timestamp"`
	Quality    Quality    `json:"quality"`
	Mode       Mode       `json:"mode"`
	Resolution Resolution `json:"resolution"`
	Prompt     string     `json:"prompt,omitempty"`
}

// OwnedKeys lists every blob key the record holds, original first.
func (r ImageRecord) OwnedKeys() []string {
	keys := make([]string, 0, len(r.History)+2)
	if r.OriginalKey != "" {
		keys = append(keys, r.OriginalKey)
	}
	for _, v := range r.History {
		if v.Key != "" {
			keys = append(keys, v.Key)
		}
	}
	if r.EnhancedKey != "" {
		keys = append(keys, r.EnhancedKey)
	}
	return keys
}

// Clone returns a deep copy so callers cannot mutate registry-owned history.
func (r ImageRecord) Clone() ImageRecord {
	out := r
	if r.History != nil {
		out.History = append([]VersionRecord(nil), r.History...)
	} else {
		out.History = []VersionRecord{}
	}
	return out
}

// Upload is an accepted file handed to the registry: display name plus the
// blob key its bytes were stored under.
type Upload struct {
	Name        string
	MIME        string
	OriginalKey string
}
