// Package ocr reads Japanese health insurance cards with a vision model.
package ocr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	ErrNoJSON      = errors.New("ocr: response contains no JSON object")
	ErrUnsupported = errors.New("ocr: unsupported image type")
)

// CardFields is what the model could read off a card. Unreadable fields
// stay nil.
type CardFields struct {
	InsurerNumber *string `json:"insurer_number"`
	InsurerName   *string `json:"insurer_name"`
	Symbol        *string `json:"symbol"`
	InsuredNumber *string `json:"insured_number"`
	InsuredName   *string `json:"insured_name"`
	Relationship  *string `json:"relationship"`
	CopayRate     *int    `json:"copay_rate"`
	ValidFrom     *string `json:"valid_from"`
	ValidUntil    *string `json:"valid_until"`
}

// Extractor reads one card image.
type Extractor interface {
	ExtractCard(ctx context.Context, contentType string, image []byte) (*CardFields, error)
}

const cardPrompt = `この健康保険証の画像から以下の情報を読み取ってJSON形式で返してください。
読み取れない項目はnullとしてください。

必要な項目：
- insurer_number: 保険者番号（8桁の数字）
- insurer_name: 保険者名称
- symbol: 記号
- insured_number: 番号
- insured_name: 被保険者氏名
- relationship: 本人/家族
- copay_rate: 負担割合（数字のみ、例: 3）
- valid_from: 有効開始日（YYYY-MM-DD形式）
- valid_until: 有効終了日（YYYY-MM-DD形式）

JSON形式のみで返答してください。説明文は不要です。`

var jsonObject = regexp.MustCompile(`\{[\s\S]*\}`)

// ParseCard pulls the first-to-last brace span out of a model reply and
// decodes it. Strings are trimmed; empty strings and malformed dates are
// dropped. copay_rate is accepted as a number or a numeric string.
func ParseCard(reply string) (*CardFields, error) {
	match := jsonObject.FindString(reply)
	if match == "" {
		return nil, ErrNoJSON
	}
	var raw map[string]any
	if err := json.Unmarshal([]byte(match), &raw); err != nil {
		return nil, fmt.Errorf("ocr: decode reply: %w", err)
	}

	str := func(key string) *string {
		v, ok := raw[key]
		if !ok || v == nil {
			return nil
		}
		var s string
		switch t := v.(type) {
		case string:
			s = strings.TrimSpace(t)
		case float64:
			s = strconv.FormatFloat(t, 'f', -1, 64)
		default:
			return nil
		}
		if s == "" {
			return nil
		}
		return &s
	}
	date := func(key string) *string {
		s := str(key)
		if s == nil {
			return nil
		}
		if _, err := time.Parse("2006-01-02", *s); err != nil {
			return nil
		}
		return s
	}

	out := &CardFields{
		InsurerNumber: str("insurer_number"),
		InsurerName:   str("insurer_name"),
		Symbol:        str("symbol"),
		InsuredNumber: str("insured_number"),
		InsuredName:   str("insured_name"),
		Relationship:  str("relationship"),
		ValidFrom:     date("valid_from"),
		ValidUntil:    date("valid_until"),
	}
	if s := str("copay_rate"); s != nil {
		if n, err := strconv.Atoi(strings.TrimSuffix(*s, "割")); err == nil && n >= 0 && n <= 10 {
			out.CopayRate = &n
		}
	}
	return out, nil
}

// imageFormat maps a MIME type to the short format name the Gemini SDK
// expects.
func imageFormat(contentType string) (string, error) {
	switch contentType {
	case "image/jpeg":
		return "jpeg", nil
	case "image/png":
		return "png", nil
	case "image/webp":
		return "webp", nil
	case "image/heic":
		return "heic", nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupported, contentType)
}
