// Package storage archives finished session transcripts.
package storage

import (
	"fmt"
	"strings"

	"github.com/supabase-community/supabase-go"
)

// Archive stores session transcripts in Supabase object storage.
type Archive struct {
	client *supabase.Client
	bucket string
}

// NewArchive constructs a Supabase-backed transcript archive.
func NewArchive(url, serviceKey, bucket string) (*Archive, error) {
	if url == "" || serviceKey == "" {
		return nil, fmt.Errorf("storage: SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY required")
	}
	client, err := supabase.NewClient(url, serviceKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("storage: create supabase client: %w", err)
	}
	return &Archive{client: client, bucket: bucket}, nil
}

// SaveTranscript uploads the plain transcript for one session.
func (a *Archive) SaveTranscript(sessionID, transcript string) error {
	key := objectKey(sessionID)
	_, err := a.client.Storage.UploadFile(a.bucket, key, strings.NewReader(transcript))
	if err != nil {
		return fmt.Errorf("storage: upload %s: %w", key, err)
	}
	return nil
}

func objectKey(sessionID string) string {
	return fmt.Sprintf("transcripts/%s.txt", sessionID)
}
