package access

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Address は従業員・トークン・管理者などのプリンシパルを識別する値です。
// 正規形は 0x に続く小文字 40 桁の 16 進表記で、比較は正規形で行います。
type Address string

// ParseAddress は raw を 20 バイトのアドレスとして解釈し、正規形を返します。
// 40 桁未満の 16 進表記は先頭をゼロで埋めたものとして扱います。
func ParseAddress(raw string) (Address, error) {
	s := strings.TrimSpace(raw)
	digits := s
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		digits = s[2:]
	}
	if digits == "" || len(digits) > 2*common.AddressLength {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, raw)
	}
	padded := strings.Repeat("0", 2*common.AddressLength-len(digits)) + digits
	if !common.IsHexAddress(padded) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, raw)
	}
	return FromCommon(common.HexToAddress(padded)), nil
}

// NormalizeAddress は raw の正規形を返します。解釈できない場合は空の Address を返します。
func NormalizeAddress(raw string) Address {
	addr, err := ParseAddress(raw)
	if err != nil {
		return ""
	}
	return addr
}

// FromCommon は common.Address を正規形の Address に変換します。
func FromCommon(a common.Address) Address {
	return Address(strings.ToLower(a.Hex()))
}

// Common は a を common.Address として返します。解釈できない場合はゼロアドレスです。
func (a Address) Common() common.Address {
	norm := NormalizeAddress(string(a))
	if norm == "" {
		return common.Address{}
	}
	return common.HexToAddress(string(norm))
}

// IsZero は a が解釈できない、またはゼロアドレスかどうかを返します。
func (a Address) IsZero() bool {
	return a.Common() == common.Address{}
}

func (a Address) String() string {
	return string(a)
}
