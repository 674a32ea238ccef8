// Command archctl is a small manual-smoke-test harness for internal/conn:
// it opens a database directory, creates a table if needed, and can put or
// get a single key/value pair. Grounded on SimonWaldherr-tinySQL's
// cmd/tinysqlpage/main.go (stdlib flag + log, no CLI framework).
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"

	"github.com/bitbased/archengine-sub001/internal/btree"
	"github.com/bitbased/archengine-sub001/internal/conn"
	"github.com/bitbased/archengine-sub001/internal/txn"
)

func main() {
	dir := flag.String("dir", "", "database directory to open or create")
	table := flag.String("table", "table:archctl", "table uri to operate on")
	cmdName := flag.String("cmd", "get", "command to run: put, get")
	key := flag.String("key", "", "key to put or get")
	value := flag.String("value", "", "value to put (cmd=put only)")
	flag.Parse()

	if *dir == "" {
		log.Fatalf("archctl: -dir is required")
	}
	if *key == "" {
		log.Fatalf("archctl: -key is required")
	}

	c, err := conn.Open(*dir, conn.Config{})
	if err != nil {
		log.Fatalf("archctl: open %s: %v", *dir, err)
	}
	defer c.Close()

	s := c.NewSession()
	defer s.Close()

	switch *cmdName {
	case "put":
		if err := runPut(c, s, *table, *key, *value); err != nil {
			log.Fatalf("archctl: put: %v", err)
		}
		fmt.Printf("put %s = %s in %s\n", *key, *value, *table)
	case "get":
		got, ok, err := runGet(c, s, *table, *key)
		if err != nil {
			log.Fatalf("archctl: get: %v", err)
		}
		if !ok {
			fmt.Printf("%s: not found\n", *key)
			return
		}
		fmt.Printf("%s = %s\n", *key, got)
	default:
		log.Fatalf("archctl: unknown -cmd %q (want put or get)", *cmdName)
	}
}

func runPut(c *conn.Connection, s *conn.Session, table, key, value string) error {
	t, err := s.Begin(txn.IsolationSnapshot, txn.SyncFsync)
	if err != nil {
		return err
	}

	cur, err := s.OpenCursor(table)
	if errors.Is(err, btree.ErrNotFound) {
		if cerr := c.CreateTable(t, table, ""); cerr != nil {
			s.Abort()
			return cerr
		}
		cur, err = s.OpenCursor(table)
	}
	if err != nil {
		s.Abort()
		return err
	}
	defer s.CloseCursor(cur)

	if cur.Handle.Tree == nil {
		s.Abort()
		return fmt.Errorf("%s is not a row-store table", table)
	}
	if err := cur.Handle.Tree.Put(t, []byte(key), []byte(value)); err != nil {
		s.Abort()
		return err
	}
	return s.Commit()
}

func runGet(c *conn.Connection, s *conn.Session, table, key string) ([]byte, bool, error) {
	t, err := s.Begin(txn.ReadCommitted, txn.SyncNone)
	if err != nil {
		return nil, false, err
	}
	defer s.Abort()

	cur, err := s.OpenCursor(table)
	if err != nil {
		return nil, false, err
	}
	defer s.CloseCursor(cur)

	if cur.Handle.Tree == nil {
		return nil, false, fmt.Errorf("%s is not a row-store table", table)
	}
	return cur.Handle.Tree.Get([]byte(key), btree.Visible(t.Visible()))
}
