// Command scaupctl is a small operational front-end over the scaup
// storage engine: open a database, put/get documents, inspect the
// change feed, print database info, and trigger compaction — enough for
// a manual smoke test from a shell.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli"
	"go.uber.org/zap"

	"github.com/scaupdb/scaup/engine"
	"github.com/scaupdb/scaup/kv/bbolt"
)

func main() {
	app := cli.NewApp()
	app.Name = "scaupctl"
	app.Usage = "inspect and drive a scaup database from the command line"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "db", Usage: "path to the bbolt database file", Required: true},
		cli.BoolFlag{Name: "auto-compaction", Usage: "enable inline auto-compaction"},
	}
	app.Commands = []cli.Command{
		putCommand,
		getCommand,
		infoCommand,
		changesCommand,
		compactCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "scaupctl:", err)
		os.Exit(1)
	}
}

func openDB(c *cli.Context) (*engine.DB, error) {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}

	return engine.Open(engine.OpenOptions{
		Name:           c.GlobalString("db"),
		Driver:         bbolt.Driver{},
		Path:           c.GlobalString("db"),
		AutoCompaction: c.GlobalBool("auto-compaction"),
		Logger:         logger,
	})
}

var putCommand = cli.Command{
	Name:      "put",
	Usage:     "write one document, with an optional JSON body given as an argument",
	ArgsUsage: "<id> [json-body]",
	Action: func(c *cli.Context) error {
		if c.NArg() < 1 {
			return cli.NewExitError("put requires a document id", 1)
		}

		body := map[string]interface{}{}
		if c.NArg() >= 2 {
			if err := json.Unmarshal([]byte(c.Args().Get(1)), &body); err != nil {
				return cli.NewExitError(fmt.Sprintf("invalid json body: %s", err), 1)
			}
		}

		db, err := openDB(c)
		if err != nil {
			return err
		}
		defer db.Close()

		results, err := db.BulkWrite(engine.WriteRequest{
			Docs:     []engine.Doc{{ID: c.Args().Get(0), Body: body}},
			NewEdits: true,
		})
		if err != nil {
			return err
		}

		res := results[0]
		if res.Error != nil {
			return res.Error
		}

		fmt.Printf("ok id=%s rev=%s\n", res.ID, res.Rev)

		return nil
	},
}

var getCommand = cli.Command{
	Name:      "get",
	Usage:     "fetch one document by id",
	ArgsUsage: "<id>",
	Action: func(c *cli.Context) error {
		if c.NArg() < 1 {
			return cli.NewExitError("get requires a document id", 1)
		}

		db, err := openDB(c)
		if err != nil {
			return err
		}
		defer db.Close()

		result, err := db.Get(c.Args().Get(0), engine.GetOptions{})
		if err != nil {
			return err
		}

		encoded, err := json.MarshalIndent(result.Doc.Body, "", "  ")
		if err != nil {
			return err
		}

		fmt.Println(string(encoded))

		return nil
	},
}

var infoCommand = cli.Command{
	Name:  "info",
	Usage: "print doc_count/update_seq/uuid",
	Action: func(c *cli.Context) error {
		db, err := openDB(c)
		if err != nil {
			return err
		}
		defer db.Close()

		info, err := db.Info()
		if err != nil {
			return err
		}

		fmt.Printf("db_name=%s doc_count=%d update_seq=%d uuid=%s\n",
			info.DBName, info.DocCount, info.UpdateSeq, info.UUID)

		return nil
	},
}

var changesCommand = cli.Command{
	Name:  "changes",
	Usage: "print the change feed since a given sequence",
	Flags: []cli.Flag{
		cli.Int64Flag{Name: "since", Value: 0},
	},
	Action: func(c *cli.Context) error {
		db, err := openDB(c)
		if err != nil {
			return err
		}
		defer db.Close()

		_, err = db.Changes(engine.ChangesOptions{
			Since:      c.Int64("since"),
			ReturnDocs: true,
		}, func(change engine.Change) {
			fmt.Printf("seq=%d id=%s rev=%s deleted=%v\n", change.Seq, change.ID, change.Rev, change.Deleted)
		})

		return err
	},
}

var compactCommand = cli.Command{
	Name:      "compact",
	Usage:     "mark the given revisions of a document as compacted",
	ArgsUsage: "<id> <rev> [rev...]",
	Action: func(c *cli.Context) error {
		if c.NArg() < 2 {
			return cli.NewExitError("compact requires an id and at least one rev", 1)
		}

		db, err := openDB(c)
		if err != nil {
			return err
		}
		defer db.Close()

		id := c.Args().Get(0)
		revs := []string(c.Args())[1:]

		if err := db.Compact(id, revs, engine.CompactOptions{}); err != nil {
			return err
		}

		fmt.Println("ok")

		return nil
	},
}
