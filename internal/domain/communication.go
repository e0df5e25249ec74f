package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

type Medium string

const (
	MediumEdital  Medium = "edital"
	MediumGazette Medium = "electronic_gazette"
)

// Communication is a deduplicable disclosure fetched from the external
// source, identified by a stable content hash.
type Communication struct {
	Hash string

	Tribunal            string
	ProcessNumber       string
	CommunicationNumber int

	PartyNames  []string
	LawyerNames []string

	Text        string
	DisclosedOn time.Time
	Medium      Medium

	// Raw is the untouched source payload for this item.
	Raw []byte

	FirstSeenAt time.Time
	LastSeenAt  time.Time
}

// Fingerprint derives the content hash from the business fields. Used
// when the source does not supply its own hash. PartyNames, LawyerNames
// and Raw are deliberately non-distinguishing: they restate or wrap the
// hashed fields.
func (c Communication) Fingerprint() string {
	var b strings.Builder
	b.WriteString(c.Tribunal)
	b.WriteByte('|')
	b.WriteString(c.ProcessNumber)
	b.WriteByte('|')
	writeInt(&b, c.CommunicationNumber)
	b.WriteByte('|')
	b.WriteString(string(c.Medium))
	b.WriteByte('|')
	b.WriteString(c.DisclosedOn.UTC().Format("2006-01-02"))
	b.WriteByte('|')
	b.WriteString(c.Text)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func writeInt(b *strings.Builder, n int) {
	if n == 0 {
		b.WriteByte('0')
		return
	}
	if n < 0 {
		b.WriteByte('-')
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	b.Write(buf[i:])
}
