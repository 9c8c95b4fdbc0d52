package main

import (
	"fmt"
	"os"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/pg-sharding/gapseq"
	"github.com/pg-sharding/gapseq/pkg"
	"github.com/pg-sharding/gapseq/pkg/config"
	"github.com/pg-sharding/gapseq/pkg/models/seqerr"
	"github.com/pg-sharding/gapseq/pkg/seqlog"
	"github.com/pg-sharding/gapseq/sdb"
)

var (
	cfgPath    string
	driver     string
	connString string
	table      string

	initialValue int64
	resetValue   int64
	batchSize    int64
	nowait       bool

	rootCmd = &cobra.Command{
		Use:   "gapseq <command> [sequence-name]",
		Short: "gapseq",
		Long:  "Gapless sequence allocator backed by a relational database",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		Version:       pkg.GapseqVersionRevision,
		SilenceUsage:  false,
		SilenceErrors: false,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to gapseq config file")
	rootCmd.PersistentFlags().StringVarP(&driver, "driver", "d", "pgx", "database/sql driver name")
	rootCmd.PersistentFlags().StringVarP(&connString, "connstring", "s", "", "database connection string")
	rootCmd.PersistentFlags().StringVarP(&table, "table", "t", sdb.DefaultTable, "sequence table name")

	nextCmd.Flags().Int64Var(&initialValue, "initial", sdb.DefaultInitialValue, "initial value for a fresh sequence")
	nextCmd.Flags().Int64Var(&resetValue, "reset", 0, "wrap the counter to the initial value at this threshold")
	nextCmd.Flags().Int64Var(&batchSize, "batch", 0, "reserve a contiguous range of this size")
	nextCmd.Flags().BoolVar(&nowait, "nowait", false, "fail instead of waiting for a locked row")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(nextCmd)
	rootCmd.AddCommand(lastCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(listCmd)
}

func openStore() (*sdb.SQLSDB, error) {
	if cfgPath != "" {
		if _, err := config.LoadStoreCfg(cfgPath); err != nil {
			return nil, err
		}
		cfg := config.StoreConfig()
		seqlog.ReloadLogger(cfg.LogFileName)
		if err := seqlog.UpdateZeroLogLevel(cfg.LogLevel); err != nil {
			return nil, err
		}
		if cfg.Driver != "" {
			driver = cfg.Driver
		}
		if cfg.StorageConnString != "" {
			connString = cfg.StorageConnString
		}
		if cfg.Table != "" {
			table = cfg.Table
		}
	}

	db, err := sqlx.Connect(driver, connString)
	if err != nil {
		return nil, err
	}
	return gapseq.Open(db, table)
}

func seqName(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return gapseq.DefaultSequenceName
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "create the sequence table if it does not exist",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		return store.EnsureTable(cmd.Context())
	},
}

var nextCmd = &cobra.Command{
	Use:   "next [sequence-name]",
	Short: "allocate the next value (or a batch) of a sequence",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		req := &sdb.AllocRequest{
			Name:    seqName(args),
			Initial: initialValue,
			Reset:   resetValue,
			NoWait:  nowait,
		}
		if cmd.Flags().Changed("batch") {
			rng, err := store.NextRange(cmd.Context(), req, batchSize)
			if err != nil {
				return err
			}
			for _, v := range rng.Values() {
				fmt.Println(v)
			}
			return nil
		}
		val, err := store.NextVal(cmd.Context(), req)
		if err != nil {
			return err
		}
		fmt.Println(val)
		return nil
	},
}

var lastCmd = &cobra.Command{
	Use:   "last [sequence-name]",
	Short: "show the last issued value of a sequence",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		val, err := store.CurrVal(cmd.Context(), seqName(args))
		if seqerr.IsNotFound(err) {
			fmt.Println("<never allocated>")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Println(val)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete [sequence-name]",
	Short: "delete a sequence",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		existed, err := store.DropSequence(cmd.Context(), seqName(args))
		if err != nil {
			return err
		}
		fmt.Println(existed)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "list known sequences",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		names, err := store.ListSequences(cmd.Context())
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
