package validator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Prathamesh0903/CollabQuest-sub000/internal/config"
)

// Sentinel errors for typed checking of validation failures.
var (
	ErrEmptyCode         = errors.New("code is empty")
	ErrCodeTooLarge      = errors.New("code exceeds maximum length")
	ErrInputTooLarge     = errors.New("input exceeds maximum length")
	ErrInvalidCharacters = errors.New("code contains invalid characters")
	ErrForbiddenPattern  = errors.New("forbidden pattern detected")
	ErrUnknownLanguage   = errors.New("unsupported language")
)

// Error is a validation rejection with the offending category attached.
// It unwraps to one of the sentinels above.
type Error struct {
	Language string
	Category string // e.g. "filesystem", "process", "network", "dynamic-eval"
	Rule     string
	Err      error
}

func (e *Error) Error() string {
	if e.Category != "" {
		return fmt.Sprintf("validation failed (%s/%s): %s", e.Language, e.Category, e.Err)
	}
	return fmt.Sprintf("validation failed (%s): %s", e.Language, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsValidationError reports whether err originated from the validator.
func IsValidationError(err error) bool {
	var ve *Error
	return errors.As(err, &ve)
}

// Report is the advisory output attached to an accepted submission.
// The complexity score never blocks admission by itself.
type Report struct {
	ComplexityScore int `json:"complexity_score"`
	LoopCount       int `json:"loop_count"`
	FunctionCount   int `json:"function_count"`
	CodeBytes       int `json:"code_bytes"`
}

// Validator is the static, stateless gate in front of the queue. It is
// pure and deterministic: identical (language, code, input) always
// yields the identical verdict.
type Validator struct {
	languages map[string]config.LanguageConfig
	rules     map[string][]Rule
}

// New builds a validator from per-language limits. Pattern rules are
// compiled once at construction.
func New(languages map[string]config.LanguageConfig) *Validator {
	return &Validator{
		languages: languages,
		rules:     defaultRules(),
	}
}

// Validate checks one submission against size, character, and
// forbidden-pattern policy, in that order. On success it returns the
// advisory complexity report.
func (v *Validator) Validate(language, code, input string) (*Report, error) {
	lc, ok := v.languages[language]
	if !ok {
		return nil, &Error{Language: language, Err: ErrUnknownLanguage}
	}

	if strings.TrimSpace(code) == "" {
		return nil, &Error{Language: language, Err: ErrEmptyCode}
	}
	if len(code) > lc.MaxCodeBytes {
		return nil, &Error{
			Language: language,
			Err:      fmt.Errorf("%w: %d bytes (max %d)", ErrCodeTooLarge, len(code), lc.MaxCodeBytes),
		}
	}
	if len(input) > lc.MaxInputBytes {
		return nil, &Error{
			Language: language,
			Err:      fmt.Errorf("%w: %d bytes (max %d)", ErrInputTooLarge, len(input), lc.MaxInputBytes),
		}
	}

	if pos := firstControlByte(code); pos >= 0 {
		return nil, &Error{
			Language: language,
			Err:      fmt.Errorf("%w: control byte 0x%02x at offset %d", ErrInvalidCharacters, code[pos], pos),
		}
	}

	for _, rule := range v.rules[language] {
		if rule.Regex.MatchString(code) {
			return nil, &Error{
				Language: language,
				Category: rule.Category,
				Rule:     rule.Name,
				Err:      fmt.Errorf("%w: %s", ErrForbiddenPattern, rule.Message),
			}
		}
	}

	return score(code), nil
}

// firstControlByte returns the offset of the first NUL or disallowed
// control character, or -1. Tabs, newlines and carriage returns are fine.
func firstControlByte(code string) int {
	for i := 0; i < len(code); i++ {
		c := code[i]
		if c == '\t' || c == '\n' || c == '\r' {
			continue
		}
		if c < 0x20 || c == 0x7f {
			return i
		}
	}
	return -1
}

// score computes the advisory complexity report: loop and function
// counts weighted against raw length. Observability only.
func score(code string) *Report {
	loops := countAny(code, "for ", "for(", "while ", "while(")
	funcs := countAny(code, "def ", "func ", "function ", "=>")

	return &Report{
		ComplexityScore: loops*3 + funcs*2 + len(code)/1000,
		LoopCount:       loops,
		FunctionCount:   funcs,
		CodeBytes:       len(code),
	}
}

func countAny(s string, subs ...string) int {
	n := 0
	for _, sub := range subs {
		n += strings.Count(s, sub)
	}
	return n
}
