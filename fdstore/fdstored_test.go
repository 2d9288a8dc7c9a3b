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
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/onsi/gomega/gexec"
	"github.com/thediveo/seqpacket"
	"golang.org/x/sys/unix"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	. "github.com/onsi/gomega/gleak"
	. "github.com/thediveo/fdooze"
	. "github.com/thediveo/success"
)

var (
	fdstoredbinarymu sync.Mutex
	fdstoredBinary   string
)

// fdstoredPath builds the fdstored service binary (at most once) and returns
// its path. [gexec.CleanupBuildArtifacts] in the AfterSuite removes it again.
func fdstoredPath() string {
	fdstoredbinarymu.Lock()
	defer fdstoredbinarymu.Unlock()

	if fdstoredBinary != "" {
		return fdstoredBinary
	}

	By("building the fdstored service binary")
	var err error
	fdstoredBinary, err = gexec.BuildWithEnvironment(
		"github.com/thediveo/seqpacket/fdstore/cmd/fdstored",
		[]string{"CGO_ENABLED=0"})
	Expect(err).NotTo(HaveOccurred(), "cannot build fdstored service binary")
	return fdstoredBinary
}

var _ = Describe("fdstored service process", func() {

	BeforeEach(func() {
		goodfds := Filedescriptors()
		goodgos := Goroutines()
		DeferCleanup(func() {
			Eventually(Goroutines).Within(2 * time.Second).ProbeEvery(100 * time.Millisecond).
				ShouldNot(HaveLeaked(goodgos))
			Eventually(Filedescriptors).Within(2 * time.Second).ProbeEvery(100 * time.Millisecond).
				ShouldNot(HaveLeakedFds(goodfds))
		})
	})

	It("parks fds in a separate service process", func() {
		binary := fdstoredPath()

		fdpair := Successful(unix.Socketpair(unix.AF_UNIX,
			unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0))
		// the child inherits its connection endpoint as fd 3.
		childEnd := os.NewFile(uintptr(fdpair[1]), "fdstored-conn")
		cmd := exec.Command(binary)
		cmd.Stdout = GinkgoWriter
		cmd.Stderr = GinkgoWriter
		cmd.ExtraFiles = []*os.File{childEnd}
		Expect(cmd.Start()).To(Succeed())
		// our copy of the child's endpoint must go, as otherwise the child
		// would never see the connection close.
		Expect(childEnd.Close()).To(Succeed())
		exited := make(chan error, 1)
		go func() {
			exited <- cmd.Wait()
		}()

		conn := Successful(seqpacket.NewConn(fdpair[0], "fdstored-client"))
		client := NewClient(conn)
		defer func() { _ = client.Close() }()

		peer := Successful(conn.PeerCredentials())
		Expect(peer.Pid).To(Equal(int32(cmd.Process.Pid)))

		fd := secretFd("secret")
		Expect(client.Store("treasure", fd)).To(Succeed())
		Expect(unix.Close(fd)).To(Succeed())
		Expect(client.List()).To(ConsistOf("treasure"))
		Expect(readAndClose(Successful(client.Retrieve("treasure")))).To(Equal("secret"))

		// disconnecting terminates the service process.
		Expect(client.Close()).To(Succeed())
		Eventually(exited).Within(5 * time.Second).Should(Receive(BeNil()))
	})

})
