package main

import (
	"encoding/hex"
	"fmt"

	"github.com/lightninglabs/chancommit/keyring"
	"github.com/lightninglabs/chancommit/revocation"
	"github.com/spf13/cobra"
)

type commitSecretCommand struct {
	Index     uint32
	CommitNum uint64
	Neuter    bool

	seed *seedFlag
	cmd  *cobra.Command
}

type commitSecretResult struct {
	ChannelIndex     uint32 `json:"channel_index"`
	CommitmentNumber uint64 `json:"commitment_number"`
	State            uint64 `json:"state"`
	Secret           string `json:"per_commitment_secret,omitempty"`
	Point            string `json:"per_commitment_point"`
}

func newCommitSecretCommand() *cobra.Command {
	cc := &commitSecretCommand{}
	cc.cmd = &cobra.Command{
		Use:   "commitsecret",
		Short: "Derive the per-commitment secret of a channel state",
		Long: `This command derives the per-commitment secret and point of
the given commitment number of a channel. The secret of a state is revealed to
the channel peer when that state is revoked, the point is sent ahead of time.`,
		Example: `chancommit commitsecret --index 3 --commitnum 42

chancommit commitsecret --index 3 --commitnum 43 --neuter`,
		RunE: cc.Execute,
	}
	cc.cmd.Flags().Uint32Var(
		&cc.Index, "index", 0, "the index of the channel",
	)
	cc.cmd.Flags().Uint64Var(
		&cc.CommitNum, "commitnum", 0, "the commitment number, 0 "+
			"being the first commitment of the channel",
	)
	cc.cmd.Flags().BoolVar(
		&cc.Neuter, "neuter", false, "only print the point, not the "+
			"secret",
	)

	cc.seed = newSeedFlag(cc.cmd)

	return cc.cmd
}

func (c *commitSecretCommand) Execute(_ *cobra.Command, _ []string) error {
	masterKey, err := c.seed.read()
	if err != nil {
		return fmt.Errorf("error reading seed: %w", err)
	}

	return commitSecret(masterKey, c.Index, c.CommitNum, c.Neuter)
}

func commitSecret(masterKey *keyring.MasterKey, index uint32,
	commitNum uint64, neuter bool) error {

	state, err := revocation.StateFromCommitmentNumber(commitNum)
	if err != nil {
		return err
	}

	commitSeed, err := masterKey.DeriveBasepointSecret(
		keyring.KeyFamilyCommitmentSeed, index,
	)
	if err != nil {
		return err
	}
	var seed [32]byte
	copy(seed[:], commitSeed.Serialize())

	secret, err := revocation.BuildCommitmentSecret(seed, state)
	if err != nil {
		return fmt.Errorf("could not build commitment secret: %w", err)
	}
	secretKey, err := revocation.SecretToKey(secret)
	if err != nil {
		return err
	}

	result := &commitSecretResult{
		ChannelIndex:     index,
		CommitmentNumber: commitNum,
		State:            uint64(state),
		Point:            hexPubKey(secretKey.PubKey()),
	}
	if !neuter {
		result.Secret = hex.EncodeToString(secret[:])
	}

	return printJSON(result)
}
