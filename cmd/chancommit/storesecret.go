package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/lightninglabs/chancommit/dataformat"
	"github.com/lightninglabs/chancommit/revocation"
	"github.com/spf13/cobra"
)

const defaultDBTimeout = 5 * time.Second

type storeSecretCommand struct {
	DB        string
	ChanPoint string
	CommitNum uint64
	Secret    string
	Lookup    bool

	cmd *cobra.Command
}

type storeSecretResult struct {
	ChanPoint        string `json:"chan_point"`
	CommitmentNumber uint64 `json:"commitment_number"`
	Secret           string `json:"per_commitment_secret"`
	NextCommitNum    uint64 `json:"next_commitment_number"`
}

func newStoreSecretCommand() *cobra.Command {
	cc := &storeSecretCommand{}
	cc.cmd = &cobra.Command{
		Use:   "storesecret",
		Short: "Store or look up a revoked secret of the channel peer",
		Long: `This command keeps the per-commitment secrets a channel
peer revealed when revoking its states in a bbolt database. Secrets must be
added in the order the peer revoked them and every new secret is checked
against the ones stored before, so a peer that reveals inconsistent secrets is
detected right away.

With --lookup the secret of an already revoked commitment number is printed
instead. Only a logarithmic number of secrets is stored, all others are derived
on lookup.`,
		Example: `chancommit storesecret --db secrets.db \
	--chanpoint 8984484a580b825b9972d7adb15050b3ab624ccd731946b3eeddb92f4e7ef6be:0 \
	--commitnum 0 --secret 7cc854b54e3e0dcdb010d7a3fee464a9687be6e8db3be6854c475621e007a5dc

chancommit storesecret --db secrets.db --lookup \
	--chanpoint 8984484a580b825b9972d7adb15050b3ab624ccd731946b3eeddb92f4e7ef6be:0 \
	--commitnum 0`,
		RunE: cc.Execute,
	}
	cc.cmd.Flags().StringVar(
		&cc.DB, "db", "", "the bbolt database file that holds the "+
			"secrets; created if it doesn't exist",
	)
	cc.cmd.Flags().StringVar(
		&cc.ChanPoint, "chanpoint", "", "the funding outpoint of the "+
			"channel in the format <txid>:<index>",
	)
	cc.cmd.Flags().Uint64Var(
		&cc.CommitNum, "commitnum", 0, "the commitment number the "+
			"secret belongs to",
	)
	cc.cmd.Flags().StringVar(
		&cc.Secret, "secret", "", "the hex encoded per-commitment "+
			"secret the peer revealed",
	)
	cc.cmd.Flags().BoolVar(
		&cc.Lookup, "lookup", false, "look up the secret of the "+
			"commitment number instead of storing one",
	)

	return cc.cmd
}

func (c *storeSecretCommand) Execute(_ *cobra.Command, _ []string) error {
	if c.DB == "" {
		return errors.New("database file is required")
	}

	chanPoint, err := dataformat.ParseOutPoint(c.ChanPoint)
	if err != nil {
		return fmt.Errorf("invalid channel point: %w", err)
	}
	chanID := []byte(chanPoint.String())

	state, err := revocation.StateFromCommitmentNumber(c.CommitNum)
	if err != nil {
		return err
	}

	db, err := revocation.OpenBoltStore(c.DB, defaultDBTimeout)
	if err != nil {
		return fmt.Errorf("error opening secret store: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Errorf("Error closing secret store: %v", err)
		}
	}()

	var secret [32]byte
	if c.Lookup {
		store, err := db.Fetch(chanID)
		if err != nil {
			return err
		}
		secret, err = store.LookUp(state)
		if err != nil {
			return fmt.Errorf("could not look up secret: %w", err)
		}
	} else {
		secretBytes, err := hex.DecodeString(c.Secret)
		if err != nil || len(secretBytes) != 32 {
			return errors.New("secret must be 32 hex encoded bytes")
		}
		copy(secret[:], secretBytes)

		if err := db.AddSecret(chanID, state, secret); err != nil {
			return fmt.Errorf("could not store secret: %w", err)
		}
		log.Infof("Stored secret of commitment %d of channel %v",
			c.CommitNum, chanPoint)
	}

	store, err := db.Fetch(chanID)
	if err != nil {
		return err
	}

	return printJSON(&storeSecretResult{
		ChanPoint:        chanPoint.String(),
		CommitmentNumber: c.CommitNum,
		Secret:           hex.EncodeToString(secret[:]),
		NextCommitNum:    store.NextState().CommitmentNumber(),
	})
}
