package cli

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/spf13/cobra"

	"github.com/ppiankov/backupsentry/internal/alert"
	"github.com/ppiankov/backupsentry/internal/honey"
	"github.com/ppiankov/backupsentry/internal/store"
)

func init() {
	rootCmd.AddCommand(honeyCmd)
	honeyCmd.AddCommand(honeyCreateCmd, honeyWatchCmd, honeyTeardownCmd)
}

var honeyCmd = &cobra.Command{
	Use:   "honey",
	Short: "Manage honeytoken decoy sets",
	Long:  "Each committed backup can carry one decoy set that mirrors its shape.\nAny access to a honeytoken raises a honeytoken_accessed alert.",
}

var honeyCreateCmd = &cobra.Command{
	Use:   "create <backup>",
	Short: "Plant a honey set for a backup that has none",
	Args:  cobra.ExactArgs(1),
	RunE:  runHoneyCreate,
}

var honeyWatchCmd = &cobra.Command{
	Use:   "watch [backup...]",
	Short: "Watch honey sets and deliver alerts until interrupted",
	Long:  "Watches every catalogued honey set, or only the named backups' sets.",
	RunE:  runHoneyWatch,
}

var honeyTeardownCmd = &cobra.Command{
	Use:   "teardown <backup>",
	Short: "Remove the honey set of a backup",
	Args:  cobra.ExactArgs(1),
	RunE:  runHoneyTeardown,
}

func runHoneyCreate(cmd *cobra.Command, args []string) error {
	e, svc, err := openBackups(true)
	if err != nil {
		return err
	}
	defer e.close()

	ctx, cancel := notifyContext()
	defer cancel()

	rec, err := svc.PlantHoney(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Planted %d honeytokens for %s under %s\n", len(rec.Tokens), args[0], rec.Root)
	return nil
}

func runHoneyWatch(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	defer e.close()

	ctx, cancel := notifyContext()
	defer cancel()

	st, err := e.openStore(ctx)
	if err != nil {
		return err
	}
	sink, err := e.alerts(ctx)
	if err != nil {
		return err
	}
	recs, err := store.HoneySets(ctx, st)
	if err != nil {
		return err
	}

	wanted := make(map[string]bool, len(args))
	for _, a := range args {
		wanted[a] = true
	}

	var (
		sets []*honey.Set
		wg   sync.WaitGroup
		errs []error
	)
	for _, rec := range recs {
		if len(args) > 0 && !wanted[rec.Backup] {
			continue
		}
		delete(wanted, rec.Backup)
		set, err := honey.Open(rec, e.cfg.Honey, e.logger)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		ch, err := set.Watch()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		sets = append(sets, set)
		wg.Add(1)
		go func() {
			defer wg.Done()
			// The stream closes after set.Close, once pending events are delivered.
			alert.Relay(context.Background(), ch, sink, e.logger)
		}()
		fmt.Fprintf(cmd.ErrOrStderr(), "watching %s: %d tokens under %s\n", rec.Backup, len(set.Tokens), set.Root)
	}
	for name := range wanted {
		errs = append(errs, fmt.Errorf("backup %s has no honey set", name))
	}
	if len(sets) == 0 {
		errs = append(errs, errors.New("no honey sets to watch"))
		return errors.Join(errs...)
	}
	for _, err := range errs {
		e.logger.Warn("honey set skipped", "error", err)
	}

	<-ctx.Done()
	fmt.Fprintln(cmd.ErrOrStderr(), "\nStopping honey watch...")
	for _, s := range sets {
		if err := s.Close(); err != nil {
			e.logger.Warn("close honey set", "backup", s.Backup, "error", err)
		}
	}
	wg.Wait()
	return nil
}

func runHoneyTeardown(cmd *cobra.Command, args []string) error {
	e, svc, err := openBackups(false)
	if err != nil {
		return err
	}
	defer e.close()

	ctx, cancel := notifyContext()
	defer cancel()

	if err := svc.RemoveHoney(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed honey set of %s\n", args[0])
	return nil
}
