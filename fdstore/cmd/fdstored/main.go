// Copyright 2026 Harald Albrecht.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/thediveo/seqpacket"
	"github.com/thediveo/seqpacket/fdstore"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{})))

	slog.Info("seqpacket/fdstore/cmd/fdstored started",
		slog.Int("pid", os.Getpid()))
	defer slog.Info("seqpacket/fdstore/cmd/fdstored terminated",
		slog.Int("pid", os.Getpid()))

	conn, err := seqpacket.NewConn(3, "fdstored")
	if err != nil {
		slog.Error("invalid fd 3", slog.String("err", err.Error()))
		os.Exit(1)
	}
	store := fdstore.NewStore(slog.Default())
	defer store.Close()
	store.Serve(context.Background(), conn)
	_ = conn.Close()
}
