package encoding

import (
	"errors"
	"math/big"
)

const (
	// Base62Alphabet is the alphabet used for Base62 encoding.
	Base62Alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// base62Radix is the numeric base corresponding to Base62Alphabet.
var base62Radix = big.NewInt(int64(len(Base62Alphabet)))

// base62Digits maps an alphabet byte back to its digit value.
var base62Digits = func() map[byte]int64 {
	digits := make(map[byte]int64, len(Base62Alphabet))
	for i := 0; i < len(Base62Alphabet); i++ {
		digits[Base62Alphabet[i]] = int64(i)
	}
	return digits
}()

// errInvalidBase62Character indicates that DecodeBase62 encountered a byte
// outside of Base62Alphabet.
var errInvalidBase62Character = errors.New("invalid base62 character")

// EncodeBase62 performs Base62 encoding of an arbitrary byte string. Leading
// zero bytes are preserved one-to-one as leading Base62Alphabet[0]
// characters (the same convention used by Base58Check-style encodings),
// which is what allows DecodeBase62 to recover a fixed-width byte string
// exactly rather than losing leading zero bytes to big-integer normalization.
func EncodeBase62(value []byte) string {
	var leadingZeros int
	for leadingZeros < len(value) && value[leadingZeros] == 0 {
		leadingZeros++
	}

	number := new(big.Int).SetBytes(value[leadingZeros:])

	var digits []byte
	zero := big.NewInt(0)
	remainder := new(big.Int)
	for number.Cmp(zero) > 0 {
		number.DivMod(number, base62Radix, remainder)
		digits = append(digits, Base62Alphabet[remainder.Int64()])
	}
	for i, j := 0, len(digits)-1; i < j; i, j = i+1, j-1 {
		digits[i], digits[j] = digits[j], digits[i]
	}

	result := make([]byte, 0, leadingZeros+len(digits))
	for i := 0; i < leadingZeros; i++ {
		result = append(result, Base62Alphabet[0])
	}
	result = append(result, digits...)
	return string(result)
}

// DecodeBase62 performs Base62 decoding, reversing EncodeBase62's leading
// zero byte preservation.
func DecodeBase62(value string) ([]byte, error) {
	var leadingZeroChars int
	for leadingZeroChars < len(value) && value[leadingZeroChars] == Base62Alphabet[0] {
		leadingZeroChars++
	}

	number := new(big.Int)
	for i := leadingZeroChars; i < len(value); i++ {
		digit, ok := base62Digits[value[i]]
		if !ok {
			return nil, errInvalidBase62Character
		}
		number.Mul(number, base62Radix)
		number.Add(number, big.NewInt(digit))
	}

	result := make([]byte, 0, leadingZeroChars+8)
	for i := 0; i < leadingZeroChars; i++ {
		result = append(result, 0)
	}
	return append(result, number.Bytes()...), nil
}
