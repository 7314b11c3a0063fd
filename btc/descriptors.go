package btc

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightninglabs/chancommit/scripts"
)

const (
	inputCharset = "0123456789()[],'/*abcdefgh@:$%{}IJKLMNOPQRSTUVWXYZ" +
		"&+-.;<=>?!^_|~ijklmnopqrstuvwxyzABCDEFGH`#\"\\ "
	checksumCharset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"
)

var generator = [5]uint64{
	0xf5dee51989, 0xa9fdca3312, 0x1bab10e32d, 0x3706b1677a, 0x644d626ffd,
}

func polymod(symbols []uint64) uint64 {
	chk := uint64(1)
	for _, value := range symbols {
		top := chk >> 35
		chk = (chk&0x7ffffffff)<<5 ^ value
		for i, g := range generator {
			if (top>>i)&1 != 0 {
				chk ^= g
			}
		}
	}
	return chk
}

// expand maps the descriptor to checksum symbols. Characters outside of the
// descriptor charset return false.
func expand(s string) ([]uint64, bool) {
	var symbols, groups []uint64
	for _, c := range s {
		v := strings.IndexRune(inputCharset, c)
		if v < 0 {
			return nil, false
		}
		symbols = append(symbols, uint64(v&31))
		groups = append(groups, uint64(v>>5))
		if len(groups) == 3 {
			symbols = append(
				symbols, groups[0]*9+groups[1]*3+groups[2],
			)
			groups = groups[:0]
		}
	}

	switch len(groups) {
	case 1:
		symbols = append(symbols, groups[0])
	case 2:
		symbols = append(symbols, groups[0]*3+groups[1])
	}

	return symbols, true
}

// DescriptorSumCreate appends the BIP 380 checksum to an output descriptor.
func DescriptorSumCreate(s string) (string, error) {
	symbols, ok := expand(s)
	if !ok {
		return "", fmt.Errorf("invalid character in descriptor %q", s)
	}

	checksum := polymod(append(symbols, 0, 0, 0, 0, 0, 0, 0, 0)) ^ 1

	var sb strings.Builder
	sb.WriteString(s)
	sb.WriteByte('#')
	for i := range 8 {
		sb.WriteByte(checksumCharset[(checksum>>(5*(7-i)))&31])
	}

	return sb.String(), nil
}

// DescriptorSumCheck verifies the checksum of a descriptor.
func DescriptorSumCheck(s string) bool {
	if len(s) < 9 || s[len(s)-9] != '#' {
		return false
	}

	symbols, ok := expand(s[:len(s)-9])
	if !ok {
		return false
	}
	for _, c := range s[len(s)-8:] {
		v := strings.IndexRune(checksumCharset, c)
		if v < 0 {
			return false
		}
		symbols = append(symbols, uint64(v))
	}

	return polymod(symbols) == 1
}

// FundingDescriptor returns the watch-only descriptor of a channel's 2-of-2
// funding output, so a wallet can track it.
func FundingDescriptor(a, b *btcec.PublicKey) (string, error) {
	first, second := scripts.SortPubKeys(a, b)

	return DescriptorSumCreate(fmt.Sprintf(
		"wsh(multi(2,%s,%s))",
		hex.EncodeToString(first.SerializeCompressed()),
		hex.EncodeToString(second.SerializeCompressed()),
	))
}

// PubKeyDescriptor returns the descriptor of a P2WKH output, like to_remote.
func PubKeyDescriptor(pubKey *btcec.PublicKey) (string, error) {
	return DescriptorSumCreate(fmt.Sprintf(
		"wpkh(%s)", hex.EncodeToString(pubKey.SerializeCompressed()),
	))
}
