// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"sync"
	"testing"

	"golang.org/x/crypto/ssh"
)

// SSHServer is a pure Go SSH server for exercising the ssh adapter against a
// real transport without a system sshd: it accepts "session" channels
// (running the requested command through the local shell) and
// "direct-tcpip" channels (forwarding to whatever address the client
// requested), which is what backs adapter-level tunnel tests.
type SSHServer struct {
	Port      int
	ClientKey ssh.Signer

	listener net.Listener
	t        testing.TB
	wg       sync.WaitGroup
}

// StartSSHServer generates ephemeral host/client keys and starts listening
// on an OS-assigned loopback port. Skips the test if a key or listener
// cannot be created.
func StartSSHServer(t testing.TB) *SSHServer {
	t.Helper()

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Skip("failed to generate host key:", err)
		return nil
	}
	hostKey, err := ssh.NewSignerFromKey(hostPriv)
	if err != nil {
		t.Skip("failed to create host signer:", err)
		return nil
	}

	clientPub, clientPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Skip("failed to generate client key:", err)
		return nil
	}
	clientKey, err := ssh.NewSignerFromKey(clientPriv)
	if err != nil {
		t.Skip("failed to create client signer:", err)
		return nil
	}
	clientSSHPub, err := ssh.NewPublicKey(clientPub)
	if err != nil {
		t.Skip("failed to create ssh public key:", err)
		return nil
	}

	config := &ssh.ServerConfig{
		PublicKeyCallback: func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if bytes.Equal(key.Marshal(), clientSSHPub.Marshal()) {
				return &ssh.Permissions{}, nil
			}
			return nil, fmt.Errorf("unknown public key")
		},
	}
	config.AddHostKey(hostKey)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skip("failed to listen:", err)
		return nil
	}

	s := &SSHServer{
		Port:      listener.Addr().(*net.TCPAddr).Port,
		ClientKey: clientKey,
		listener:  listener,
		t:         t,
	}

	s.wg.Add(1)
	go s.acceptLoop(config)
	t.Cleanup(s.Stop)

	return s
}

func (s *SSHServer) acceptLoop(config *ssh.ServerConfig) {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go s.handleConn(conn, config)
	}
}

func (s *SSHServer) handleConn(netConn net.Conn, config *ssh.ServerConfig) {
	defer s.wg.Done()
	defer func() { _ = netConn.Close() }()

	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, config)
	if err != nil {
		return
	}
	defer func() { _ = sshConn.Close() }()

	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		s.wg.Add(1)
		go s.handleChannel(newChannel)
	}
}

func (s *SSHServer) handleChannel(newChannel ssh.NewChannel) {
	defer s.wg.Done()

	switch newChannel.ChannelType() {
	case "session":
		s.handleSessionChannel(newChannel)
	case "direct-tcpip":
		s.handleDirectTCPIP(newChannel)
	default:
		_ = newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
	}
}

func (s *SSHServer) handleSessionChannel(newChannel ssh.NewChannel) {
	channel, requests, err := newChannel.Accept()
	if err != nil {
		return
	}
	defer func() { _ = channel.Close() }()

	sessionEnv := make(map[string]string)
	for req := range requests {
		switch req.Type {
		case "exec":
			s.handleExec(channel, req, sessionEnv)
		case "env":
			var envReq struct{ Name, Value string }
			if ssh.Unmarshal(req.Payload, &envReq) == nil {
				sessionEnv[envReq.Name] = envReq.Value
			}
			if req.WantReply {
				_ = req.Reply(true, nil)
			}
		default:
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}
	}
}

func (s *SSHServer) handleExec(channel ssh.Channel, req *ssh.Request, sessionEnv map[string]string) {
	var execReq struct{ Command string }
	if err := ssh.Unmarshal(req.Payload, &execReq); err != nil {
		if req.WantReply {
			_ = req.Reply(false, nil)
		}
		_ = channel.Close()
		return
	}
	if req.WantReply {
		_ = req.Reply(true, nil)
	}

	cmd := exec.Command("sh", "-c", execReq.Command)
	for k, v := range sessionEnv {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Stdout = channel
	cmd.Stderr = channel.Stderr()

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = 1
		}
	}
	status := struct{ Status uint32 }{uint32(exitCode)}
	_, _ = channel.SendRequest("exit-status", false, ssh.Marshal(&status))
	_ = channel.Close()
}

// handleDirectTCPIP implements the server side of the tunnel's forwarded
// connection: dial whatever address the client requested and splice bytes
// in both directions, exactly what a real sshd does for -L/-D forwarding.
func (s *SSHServer) handleDirectTCPIP(newChannel ssh.NewChannel) {
	var req struct {
		DestAddr   string
		DestPort   uint32
		OriginAddr string
		OriginPort uint32
	}
	if err := ssh.Unmarshal(newChannel.ExtraData(), &req); err != nil {
		_ = newChannel.Reject(ssh.ConnectionFailed, "malformed request")
		return
	}

	target, err := net.Dial("tcp", fmt.Sprintf("%s:%d", req.DestAddr, req.DestPort))
	if err != nil {
		_ = newChannel.Reject(ssh.ConnectionFailed, err.Error())
		return
	}
	defer func() { _ = target.Close() }()

	channel, requests, err := newChannel.Accept()
	if err != nil {
		return
	}
	defer func() { _ = channel.Close() }()
	go ssh.DiscardRequests(requests)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _, _ = channelCopy(target, channel) }()
	go func() { defer wg.Done(); _, _ = channelCopy(channel, target) }()
	wg.Wait()
}

func channelCopy(dst, src interface {
	Read([]byte) (int, error)
	Write([]byte) (int, error)
}) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			_, werr := dst.Write(buf[:n])
			written += int64(n)
			if werr != nil {
				return written, werr
			}
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

// Stop closes the listener and waits for every in-flight connection to
// finish.
func (s *SSHServer) Stop() {
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
}

// Addr returns the loopback address to dial.
func (s *SSHServer) Addr() string {
	return fmt.Sprintf("127.0.0.1:%d", s.Port)
}

// ClientConfig returns an ssh.ClientConfig that authenticates as user using
// the server's accepted test key.
func (s *SSHServer) ClientConfig(user string) *ssh.ClientConfig {
	return &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(s.ClientKey)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}
}

// RunCommand is a convenience one-shot: dial, run command as user, and
// return its captured output.
func (s *SSHServer) RunCommand(user, command string) (stdout, stderr string, exitCode int, err error) {
	client, err := ssh.Dial("tcp", s.Addr(), s.ClientConfig(user))
	if err != nil {
		return "", "", 1, err
	}
	defer func() { _ = client.Close() }()

	session, err := client.NewSession()
	if err != nil {
		return "", "", 1, err
	}
	defer func() { _ = session.Close() }()

	var outBuf, errBuf bytes.Buffer
	session.Stdout = &outBuf
	session.Stderr = &errBuf

	err = session.Run(command)
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitStatus()
		} else {
			exitCode = 1
		}
	}
	return outBuf.String(), errBuf.String(), exitCode, nil
}
