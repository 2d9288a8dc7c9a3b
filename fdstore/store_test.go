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

package fdstore

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/thediveo/safe"
	"github.com/thediveo/seqpacket"
	"golang.org/x/sys/unix"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	. "github.com/onsi/gomega/gleak"
	. "github.com/thediveo/fdooze"
	. "github.com/thediveo/success"
)

// servingStore spins up a Store serving a fresh connection pair and returns a
// client connected to it, together with the serving loop's done channel and
// the store itself. Everything gets torn down at the end of the current test
// node.
func servingStore(ctx context.Context, log *slog.Logger) (*Client, *Store, chan struct{}) {
	GinkgoHelper()

	dupond, dupont := Successful2R(seqpacket.Pair())
	store := NewStore(log)
	DeferCleanup(store.Close)
	done := make(chan struct{})
	go func() {
		defer GinkgoRecover()
		defer close(done)
		store.Serve(ctx, dupont)
		_ = dupont.Close()
	}()
	client := NewClient(dupond)
	DeferCleanup(func() {
		_ = client.Close()
		Eventually(done).Within(5 * time.Second).Should(BeClosed())
	})
	return client, store, done
}

// secretFd returns an open read-only fd for a new file with the passed
// contents.
func secretFd(contents string) int {
	GinkgoHelper()
	path := filepath.Join(GinkgoT().TempDir(), "stashling")
	Expect(os.WriteFile(path, []byte(contents), 0o644)).To(Succeed())
	return Successful(unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0))
}

// readAndClose returns the full contents behind the passed fd, closing it.
func readAndClose(fd int) string {
	GinkgoHelper()
	f := os.NewFile(uintptr(fd), "retrieved")
	defer func() { _ = f.Close() }()
	return string(Successful(io.ReadAll(f)))
}

var _ = Describe("fdstore service", func() {

	var log *slog.Logger
	var logs *safe.Buffer

	BeforeEach(func() {
		goodfds := Filedescriptors()
		goodgos := Goroutines()
		DeferCleanup(func() {
			Eventually(Goroutines).Within(2 * time.Second).ProbeEvery(100 * time.Millisecond).
				ShouldNot(HaveLeaked(goodgos))
			Eventually(Filedescriptors).Within(2 * time.Second).ProbeEvery(100 * time.Millisecond).
				ShouldNot(HaveLeakedFds(goodfds))
		})

		logs = &safe.Buffer{}
		log = slog.New(slog.NewTextHandler(io.MultiWriter(logs, GinkgoWriter),
			&slog.HandlerOptions{Level: slog.LevelInfo}))
	})

	It("stores, lists, retrieves, and removes file descriptors", func(ctx context.Context) {
		client, _, _ := servingStore(ctx, log)

		Eventually(logs.String).Within(2 * time.Second).
			Should(ContainSubstring("fdstore serving loop started"))

		Expect(client.List()).To(BeEmpty())

		fd := secretFd("secret")
		Expect(client.Store("treasure", fd)).To(Succeed())
		// the caller keeps ownership, the service only got a duplicate.
		Expect(unix.Close(fd)).To(Succeed())

		Expect(client.List()).To(ConsistOf("treasure"))
		Expect(readAndClose(Successful(client.Retrieve("treasure")))).To(Equal("secret"))
		// retrieval doesn't remove, so retrieving again also works.
		Expect(readAndClose(Successful(client.Retrieve("treasure")))).To(Equal("secret"))

		Expect(client.Remove("treasure")).To(Succeed())
		Expect(client.List()).To(BeEmpty())
	})

	It("rejects unknown names and nameless stores", func(ctx context.Context) {
		client, _, _ := servingStore(ctx, log)

		Expect(client.Retrieve("nonsense")).Error().To(MatchError(
			ContainSubstring("no file descriptor stored under name nonsense")))
		Expect(client.Remove("nonsense")).To(MatchError(
			ContainSubstring("no file descriptor stored under name nonsense")))

		fd := secretFd("orphaned")
		defer func() { _ = unix.Close(fd) }()
		Expect(client.Store("", fd)).To(MatchError(
			ContainSubstring("store request without name")))
	})

	It("replaces a stored file descriptor under the same name", func(ctx context.Context) {
		client, _, _ := servingStore(ctx, log)

		fd1 := secretFd("old")
		Expect(client.Store("treasure", fd1)).To(Succeed())
		Expect(unix.Close(fd1)).To(Succeed())
		fd2 := secretFd("new")
		Expect(client.Store("treasure", fd2)).To(Succeed())
		Expect(unix.Close(fd2)).To(Succeed())

		Expect(client.List()).To(ConsistOf("treasure"))
		Expect(readAndClose(Successful(client.Retrieve("treasure")))).To(Equal("new"))
	})

	It("terminates the serving loop when the client disconnects", func(ctx context.Context) {
		client, _, done := servingStore(ctx, log)

		Expect(client.List()).To(BeEmpty())
		Expect(client.Close()).To(Succeed())
		Eventually(done).Within(5 * time.Second).Should(BeClosed())
		Eventually(logs.String).Within(2 * time.Second).
			Should(ContainSubstring("fdstore serving loop terminated"))
	})

	It("terminates the serving loop when the context gets cancelled", func(ctx context.Context) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		_, _, done := servingStore(ctx, log)

		Eventually(logs.String).Within(2 * time.Second).
			Should(ContainSubstring("fdstore serving loop started"))
		cancel()
		// the serving loop checks its context every few seconds between
		// receive deadlines.
		Eventually(done).Within(5 * time.Second).Should(BeClosed())
	})

	It("keeps stored file descriptors across client connections", func(ctx context.Context) {
		dupond, dupont := Successful2R(seqpacket.Pair())
		store := NewStore(log)
		defer store.Close()
		done := make(chan struct{})
		go func() {
			defer GinkgoRecover()
			defer close(done)
			store.Serve(ctx, dupont)
			_ = dupont.Close()
		}()

		client := NewClient(dupond)
		fd := secretFd("persistent")
		Expect(client.Store("treasure", fd)).To(Succeed())
		Expect(unix.Close(fd)).To(Succeed())
		Expect(client.Close()).To(Succeed())
		Eventually(done).Within(5 * time.Second).Should(BeClosed())

		dupond2, dupont2 := Successful2R(seqpacket.Pair())
		done2 := make(chan struct{})
		go func() {
			defer GinkgoRecover()
			defer close(done2)
			store.Serve(ctx, dupont2)
			_ = dupont2.Close()
		}()
		client2 := NewClient(dupond2)
		defer func() {
			_ = client2.Close()
			Eventually(done2).Within(5 * time.Second).Should(BeClosed())
		}()
		Expect(readAndClose(Successful(client2.Retrieve("treasure")))).To(Equal("persistent"))
	})

})
