package qr

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"ms-booking/internal/models"
	"time"

	"github.com/skip2/go-qrcode"
)

var ErrNotConfirmed = errors.New("request has no confirmed musician")

// Confirmation is the booking proof a musician shows on arrival.
type Confirmation struct {
	RequestID  string    `json:"request_id"`
	LeaderID   string    `json:"leader_id"`
	MusicianID string    `json:"musician_id"`
	OfferID    string    `json:"offer_id,omitempty"`
	EventDate  string    `json:"event_date"`
	StartTime  string    `json:"start_time"`
	Location   string    `json:"location"`
	AssignedAt time.Time `json:"assigned_at"`
}

func ConfirmationFor(r *models.Request) (*Confirmation, error) {
	a := r.Assignment()
	if a == nil {
		return nil, ErrNotConfirmed
	}
	return &Confirmation{
		RequestID:  r.ID,
		LeaderID:   r.LeaderID,
		MusicianID: a.MusicianID,
		OfferID:    a.OfferID,
		EventDate:  r.EventDate,
		StartTime:  r.StartTime,
		Location:   r.Location,
		AssignedAt: a.AssignedAt.UTC(),
	}, nil
}

type QRGenerator struct {
	secret []byte
}

func NewQRGenerator(secret string) *QRGenerator {
	hashed := sha256.Sum256([]byte(secret)) // normalize to 32 bytes
	return &QRGenerator{secret: hashed[:]}
}

// GenerateEncryptedQR encodes the encrypted confirmation as a 256px PNG.
func (q *QRGenerator) GenerateEncryptedQR(c *Confirmation) ([]byte, error) {
	token, err := q.Seal(c)
	if err != nil {
		return nil, err
	}
	return qrcode.Encode(token, qrcode.Medium, 256)
}

// Seal encrypts c into the URL-safe token carried by the QR code.
func (q *QRGenerator) Seal(c *Confirmation) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	gcm, err := q.aead()
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := gcm.Seal(nonce, nonce, data, nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// Open decrypts a token produced by Seal.
func (q *QRGenerator) Open(token string) (*Confirmation, error) {
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("invalid confirmation token: %w", err)
	}
	gcm, err := q.aead()
	if err != nil {
		return nil, err
	}
	if len(raw) < gcm.NonceSize() {
		return nil, errors.New("invalid confirmation token: too short")
	}
	nonce, ciphertext := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	data, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid confirmation token: %w", err)
	}
	var c Confirmation
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (q *QRGenerator) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(q.secret)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
