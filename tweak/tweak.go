package tweak

import (
	"crypto/sha256"
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

var (
	// ErrInvalidTweak is returned if a tweak hash is not a valid scalar or
	// the tweaked key ends up being the point at infinity. Neither can
	// happen unless SHA256 is broken.
	ErrInvalidTweak = errors.New("tweak results in an invalid key")
)

// SingleTweakBytes computes SHA256(perCommitPoint || basepoint).
func SingleTweakBytes(perCommitPoint, basepoint *btcec.PublicKey) [32]byte {
	h := sha256.New()
	h.Write(perCommitPoint.SerializeCompressed())
	h.Write(basepoint.SerializeCompressed())

	var tweak [32]byte
	copy(tweak[:], h.Sum(nil))
	return tweak
}

func hashToScalar(h [32]byte) (*secp256k1.ModNScalar, error) {
	var scalar secp256k1.ModNScalar
	if overflow := scalar.SetBytes(&h); overflow != 0 {
		return nil, ErrInvalidTweak
	}

	return &scalar, nil
}

func scalarToPrivKey(scalar *secp256k1.ModNScalar) (*btcec.PrivateKey,
	error) {

	if scalar.IsZero() {
		return nil, ErrInvalidTweak
	}

	return secp256k1.NewPrivateKey(scalar), nil
}

func jacobianToPubKey(p *secp256k1.JacobianPoint) (*btcec.PublicKey, error) {
	if (p.X.IsZero() && p.Y.IsZero()) || p.Z.IsZero() {
		return nil, ErrInvalidTweak
	}

	p.ToAffine()
	return secp256k1.NewPublicKey(&p.X, &p.Y), nil
}

// DerivePublicKey tweaks a basepoint with a per-commitment point:
//
//	pubkey = basepoint + SHA256(per_commitment_point || basepoint) * G
func DerivePublicKey(basepoint, perCommitPoint *btcec.PublicKey) (
	*btcec.PublicKey, error) {

	tweak, err := hashToScalar(SingleTweakBytes(perCommitPoint, basepoint))
	if err != nil {
		return nil, err
	}

	var tweakPoint, base, result secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(tweak, &tweakPoint)
	basepoint.AsJacobian(&base)
	secp256k1.AddNonConst(&base, &tweakPoint, &result)

	return jacobianToPubKey(&result)
}

// DerivePrivateKey is the private counterpart of DerivePublicKey:
//
//	privkey = basepoint_secret + SHA256(per_commitment_point || basepoint)
func DerivePrivateKey(basepointSecret *btcec.PrivateKey,
	perCommitPoint *btcec.PublicKey) (*btcec.PrivateKey, error) {

	tweakBytes := SingleTweakBytes(perCommitPoint, basepointSecret.PubKey())
	tweak, err := hashToScalar(tweakBytes)
	if err != nil {
		return nil, err
	}

	var result secp256k1.ModNScalar
	result.Set(&basepointSecret.Key).Add(tweak)

	return scalarToPrivKey(&result)
}

// revocationTweaks returns SHA256(R || P) and SHA256(P || R) as scalars.
func revocationTweaks(revocationBasepoint,
	perCommitPoint *btcec.PublicKey) (*secp256k1.ModNScalar,
	*secp256k1.ModNScalar, error) {

	r := revocationBasepoint.SerializeCompressed()
	p := perCommitPoint.SerializeCompressed()

	revTweak, err := hashToScalar(sha256.Sum256(append(r, p...)))
	if err != nil {
		return nil, nil, err
	}
	commitTweak, err := hashToScalar(sha256.Sum256(append(p, r...)))
	if err != nil {
		return nil, nil, err
	}

	return revTweak, commitTweak, nil
}

// DeriveRevocationPubKey derives the revocation public key of a commitment
// from the peer's revocation basepoint R and the commitment owner's
// per-commitment point P:
//
//	revocationpubkey = R * SHA256(R || P) + P * SHA256(P || R)
func DeriveRevocationPubKey(revocationBasepoint,
	perCommitPoint *btcec.PublicKey) (*btcec.PublicKey, error) {

	revTweak, commitTweak, err := revocationTweaks(
		revocationBasepoint, perCommitPoint,
	)
	if err != nil {
		return nil, err
	}

	var r, p, rTweaked, pTweaked, result secp256k1.JacobianPoint
	revocationBasepoint.AsJacobian(&r)
	perCommitPoint.AsJacobian(&p)
	secp256k1.ScalarMultNonConst(revTweak, &r, &rTweaked)
	secp256k1.ScalarMultNonConst(commitTweak, &p, &pTweaked)
	secp256k1.AddNonConst(&rTweaked, &pTweaked, &result)

	return jacobianToPubKey(&result)
}

// DeriveRevocationPrivKey derives the private key of a revocation public key.
// It needs the revocation basepoint secret r and the per-commitment secret p
// the commitment owner only reveals once the state is revoked:
//
//	revocationprivkey = r * SHA256(R || P) + p * SHA256(P || R)
func DeriveRevocationPrivKey(revocationBasepointSecret,
	perCommitSecret *btcec.PrivateKey) (*btcec.PrivateKey, error) {

	revTweak, commitTweak, err := revocationTweaks(
		revocationBasepointSecret.PubKey(), perCommitSecret.PubKey(),
	)
	if err != nil {
		return nil, err
	}

	var rTerm, pTerm secp256k1.ModNScalar
	rTerm.Set(&revocationBasepointSecret.Key).Mul(revTweak)
	pTerm.Set(&perCommitSecret.Key).Mul(commitTweak)

	return scalarToPrivKey(rTerm.Add(&pTerm))
}
