package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	PasswordMinLength      = 8
	PasswordMaxLength      = 128
	DefaultBcryptCost      = 12
	DefaultGeneratedLength = 16

	// bcrypt ignores (and newer x/crypto rejects) input past 72 bytes.
	bcryptMaxInput = 72
)

var (
	ErrPasswordPolicy = errors.New("password does not meet policy")
	ErrPasswordHash   = errors.New("password hashing failed")
)

// PolicyError lists every rule a password broke.
type PolicyError struct {
	Violations []string
}

func (e *PolicyError) Error() string {
	return ErrPasswordPolicy.Error() + ": " + strings.Join(e.Violations, "; ")
}

func (e *PolicyError) Unwrap() error { return ErrPasswordPolicy }

type Strength struct {
	Score       int      `json:"score"`
	Band        string   `json:"band"`
	Suggestions []string `json:"suggestions"`
}

type PasswordService struct {
	cost int
}

// NewPasswordService clamps cost into bcrypt's accepted range; zero or
// negative selects DefaultBcryptCost.
func NewPasswordService(cost int) *PasswordService {
	if cost <= 0 {
		cost = DefaultBcryptCost
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &PasswordService{cost: cost}
}

func (s *PasswordService) Cost() int { return s.cost }

func (s *PasswordService) Validate(password string) error {
	var violations []string
	n := len([]rune(password))
	if n < PasswordMinLength {
		violations = append(violations, fmt.Sprintf("must be at least %d characters", PasswordMinLength))
	}
	if n > PasswordMaxLength {
		violations = append(violations, fmt.Sprintf("must be at most %d characters", PasswordMaxLength))
	}
	c := classify(password)
	if !c.upper {
		violations = append(violations, "must contain an uppercase letter")
	}
	if !c.lower {
		violations = append(violations, "must contain a lowercase letter")
	}
	if !c.digit {
		violations = append(violations, "must contain a digit")
	}
	if !c.special {
		violations = append(violations, "must contain a special character")
	}
	if c.space {
		violations = append(violations, "must not contain whitespace")
	}
	if len(violations) > 0 {
		return &PolicyError{Violations: violations}
	}
	return nil
}

func (s *PasswordService) Hash(password string) (string, error) {
	if err := s.Validate(password); err != nil {
		return "", err
	}
	b, err := bcrypt.GenerateFromPassword(bcryptInput(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPasswordHash, err)
	}
	return string(b), nil
}

// Verify returns false without error for a plain mismatch. An error means the
// stored hash is malformed or bcrypt itself failed.
func (s *PasswordService) Verify(password, hash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), bcryptInput(password))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, fmt.Errorf("verify password: %w", err)
}

// NeedsRehash reports whether hash was produced with a different cost than
// the configured one. An unreadable hash reports false.
func (s *PasswordService) NeedsRehash(hash string) bool {
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return false
	}
	return cost != s.cost
}

func (s *PasswordService) CheckStrength(password string) Strength {
	score := 100
	var suggestions []string
	n := len([]rune(password))
	switch {
	case n < PasswordMinLength:
		score -= 30
		suggestions = append(suggestions, fmt.Sprintf("Use at least %d characters", PasswordMinLength))
	case n < 12:
		score -= 10
		suggestions = append(suggestions, "Use 12 or more characters for a stronger password")
	}
	c := classify(password)
	if !c.upper {
		score -= 15
		suggestions = append(suggestions, "Add uppercase letters")
	}
	if !c.lower {
		score -= 15
		suggestions = append(suggestions, "Add lowercase letters")
	}
	if !c.digit {
		score -= 15
		suggestions = append(suggestions, "Add numbers")
	}
	if !c.special {
		score -= 15
		suggestions = append(suggestions, "Add special characters")
	}
	if hasSequentialDigits(password) {
		score -= 10
		suggestions = append(suggestions, "Avoid sequential numbers such as 123")
	}
	if hasRepeatedRun(password) {
		score -= 10
		suggestions = append(suggestions, "Avoid repeating the same character")
	}
	if isCommonPassword(password) {
		score -= 50
		suggestions = append(suggestions, "Avoid commonly used passwords")
	}
	if score < 0 {
		score = 0
	}
	return Strength{Score: score, Band: strengthBand(score), Suggestions: suggestions}
}

// GenerateRandomPassword returns a password that always passes Validate.
// Lengths outside the policy range are clamped.
func (s *PasswordService) GenerateRandomPassword(length int) (string, error) {
	if length <= 0 {
		length = DefaultGeneratedLength
	}
	if length < PasswordMinLength {
		length = PasswordMinLength
	}
	if length > PasswordMaxLength {
		length = PasswordMaxLength
	}
	classes := []string{upperChars, lowerChars, digitChars, specialChars}
	out := make([]byte, 0, length)
	for _, set := range classes {
		ch, err := randomChar(set)
		if err != nil {
			return "", err
		}
		out = append(out, ch)
	}
	all := upperChars + lowerChars + digitChars + specialChars
	for len(out) < length {
		ch, err := randomChar(all)
		if err != nil {
			return "", err
		}
		out = append(out, ch)
	}
	for i := len(out) - 1; i > 0; i-- {
		j, err := randomIndex(i + 1)
		if err != nil {
			return "", err
		}
		out[i], out[j] = out[j], out[i]
	}
	return string(out), nil
}

const (
	upperChars   = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	lowerChars   = "abcdefghijkmnopqrstuvwxyz"
	digitChars   = "23456789"
	specialChars = "!@#$%^&*()-_=+[]{}<>?"
)

var commonPasswords = map[string]struct{}{
	"password": {}, "password1": {}, "password123": {}, "passw0rd": {}, "p@ssw0rd": {}, "p@ssword1": {},
	"123456": {}, "12345678": {}, "123456789": {}, "1234567890": {}, "qwerty": {}, "qwerty123": {},
	"qwertyuiop": {}, "abc123": {}, "111111": {}, "letmein": {}, "welcome": {}, "welcome1": {},
	"admin": {}, "admin123": {}, "iloveyou": {}, "monkey": {}, "dragon": {}, "football": {},
	"baseball": {}, "sunshine": {}, "princess": {}, "trustno1": {}, "changeme": {}, "secret": {},
}

type charClasses struct {
	upper, lower, digit, special, space bool
}

func classify(password string) charClasses {
	var c charClasses
	for _, r := range password {
		switch {
		case unicode.IsSpace(r):
			c.space = true
		case unicode.IsUpper(r):
			c.upper = true
		case unicode.IsLower(r):
			c.lower = true
		case unicode.IsDigit(r):
			c.digit = true
		case unicode.IsPrint(r) && !unicode.IsLetter(r):
			c.special = true
		}
	}
	return c
}

func hasSequentialDigits(password string) bool {
	b := []byte(password)
	for i := 0; i+2 < len(b); i++ {
		if !isDigit(b[i]) || !isDigit(b[i+1]) || !isDigit(b[i+2]) {
			continue
		}
		d1, d2 := int(b[i+1])-int(b[i]), int(b[i+2])-int(b[i+1])
		if d1 == d2 && (d1 == 1 || d1 == -1) {
			return true
		}
	}
	return false
}

func hasRepeatedRun(password string) bool {
	runes := []rune(password)
	for i := 0; i+2 < len(runes); i++ {
		if runes[i] == runes[i+1] && runes[i+1] == runes[i+2] {
			return true
		}
	}
	return false
}

func isCommonPassword(password string) bool {
	_, ok := commonPasswords[strings.ToLower(password)]
	return ok
}

func strengthBand(score int) string {
	switch {
	case score < 40:
		return "weak"
	case score < 70:
		return "fair"
	case score < 90:
		return "good"
	default:
		return "strong"
	}
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func bcryptInput(password string) []byte {
	if len(password) <= bcryptMaxInput {
		return []byte(password)
	}
	sum := sha256.Sum256([]byte(password))
	return []byte(base64.StdEncoding.EncodeToString(sum[:]))
}

func randomChar(set string) (byte, error) {
	i, err := randomIndex(len(set))
	if err != nil {
		return 0, err
	}
	return set[i], nil
}

func randomIndex(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("generate random password: %w", err)
	}
	return int(v.Int64()), nil
}
