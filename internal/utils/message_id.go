package utils

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// GenerateMessageID creates a RFC 5322 message id for outgoing replies
func GenerateMessageID(domain, metadata string) string {
	alphabet := "abcdefghijklmnopqrstuvwxyz0123456789"
	id, err := gonanoid.Generate(alphabet, 12)
	if err != nil {
		panic(err)
	}

	timestamp := time.Now().UnixMicro()

	var hashComponent string
	if metadata != "" {
		hash := sha256.Sum256([]byte(metadata))
		hashComponent = fmt.Sprintf(".%x", hash[:4])
	}

	localPart := fmt.Sprintf("%d.%s%s", timestamp, id, hashComponent)
	return fmt.Sprintf("<%s@%s>", localPart, domain)
}

func NormalizeMessageID(messageID string) string {
	messageID = strings.TrimSpace(messageID)
	messageID = strings.TrimPrefix(messageID, "<")
	messageID = strings.TrimSuffix(messageID, ">")
	return messageID
}

// ParseReferences splits a References or In-Reply-To header into bare message ids.
func ParseReferences(header string) []string {
	var refs []string
	for _, field := range strings.Fields(header) {
		for _, part := range strings.Split(field, ",") {
			ref := NormalizeMessageID(part)
			if ref != "" && !IsStringInSlice(ref, refs) {
				refs = append(refs, ref)
			}
		}
	}
	return refs
}

func GenerateNanoIDWithPrefix(prefix string, size int) string {
	id, err := gonanoid.New(size)
	if err != nil {
		panic(err)
	}
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

func Now() time.Time {
	return time.Now().UTC()
}
