// main.go - a smoke-test entrypoint for the storagenode persistence
// stub: open the configured data file, write a blob under a handle,
// read it back, and exit. Stands in for the out-of-scope storage-node
// daemon (spec §1 Non-goals) just enough to exercise the bbolt-backed
// interface boundary end to end.
// Copyright (C) 2024  spacelessd authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"flag"
	"os"

	"github.com/charmbracelet/log"

	"github.com/wherewindblow/spacelessd/storagenode"
)

func main() {
	dataFile := flag.String("data-file", "storagenode.db", "path to the bbolt-backed blob store")
	flag.Parse()

	cli := log.New(os.Stderr)
	cli.SetPrefix("storagenoded")

	st, err := storagenode.Open(*dataFile)
	if err != nil {
		cli.Fatal("failed to open data file", "path", *dataFile, "err", err)
	}
	defer st.Close()

	const smokeHandle = int64(1)
	if err := st.Put(smokeHandle, []byte("storagenoded is alive")); err != nil {
		cli.Fatal("failed to write smoke blob", "err", err)
	}

	data, ok, err := st.Get(smokeHandle)
	if err != nil || !ok {
		cli.Fatal("failed to read back smoke blob", "ok", ok, "err", err)
	}
	cli.Info("storagenoded smoke check passed", "data_file", *dataFile, "bytes", len(data))
}
