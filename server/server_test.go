package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/rpc"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"peerchat/credentials"
	"peerchat/db"
	"peerchat/models"
	"peerchat/protocol"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// setupTestServer starts a directory on a random port backed by a temporary
// sqlite database.
func setupTestServer(t *testing.T) (*Server, func()) {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	config := &ServerConfig{
		ListenAddr:    "127.0.0.1:0",
		BcryptCost:    bcrypt.MinCost,
		CallTimeout:   time.Second,
		PushQueueSize: 16,
		PushRetries:   1,
		PushBackoff:   time.Millisecond,
	}

	srv, err := New(context.Background(), database, config)
	require.NoError(t, err)
	require.NoError(t, srv.Listen())

	served := make(chan error, 1)
	go func() { served <- srv.Serve() }()

	cleanup := func() {
		srv.Shutdown()
		assert.NoError(t, <-served)
		database.Close()
	}
	return srv, cleanup
}

func dialDirectory(t *testing.T, srv *Server) *rpc.Client {
	t.Helper()
	client, err := rpc.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

// notifyRecorder is a Notify endpoint that records every push it receives.
type notifyRecorder struct {
	mu     sync.Mutex
	events []models.Event
}

func (n *notifyRecorder) add(ev models.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *notifyRecorder) received() []models.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.Event(nil), n.events...)
}

func (n *notifyRecorder) PeerConnected(args protocol.PeerConnectedArgs, reply *protocol.BoolReply) error {
	n.add(models.Event{Kind: models.EventPeerConnected, Username: args.Username, Address: args.Address})
	reply.OK = true
	return nil
}

func (n *notifyRecorder) PeerDisconnected(args protocol.UserArgs, reply *protocol.BoolReply) error {
	n.add(models.Event{Kind: models.EventPeerDisconnected, Username: args.Username})
	reply.OK = true
	return nil
}

func (n *notifyRecorder) FriendRequestReceived(args protocol.UserArgs, reply *protocol.BoolReply) error {
	n.add(models.Event{Kind: models.EventFriendRequestReceived, Username: args.Username})
	reply.OK = true
	return nil
}

func (n *notifyRecorder) FriendshipAccepted(args protocol.UserArgs, reply *protocol.BoolReply) error {
	n.add(models.Event{Kind: models.EventFriendshipAccepted, Username: args.Username})
	reply.OK = true
	return nil
}

// startNotifyEndpoint serves a notifyRecorder and returns its address.
func startNotifyEndpoint(t *testing.T) (string, *notifyRecorder) {
	t.Helper()

	recorder := &notifyRecorder{}
	srv := rpc.NewServer()
	require.NoError(t, srv.RegisterName(protocol.NotifyService, recorder))

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })
	go srv.Accept(listener)

	return listener.Addr().String(), recorder
}

func closedAddr(t *testing.T) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	listener.Close()
	return addr
}

func callOK(t *testing.T, client *rpc.Client, method string, args any) bool {
	t.Helper()
	var reply protocol.BoolReply
	require.NoError(t, client.Call(method, args, &reply))
	return reply.OK
}

func callList(t *testing.T, client *rpc.Client, method, user string) []string {
	t.Helper()
	var reply protocol.ListReply
	require.NoError(t, client.Call(method, protocol.UserArgs{Username: user}, &reply))
	return reply.Usernames
}

// rpcOnline registers (password = name), logs in and registers the endpoint.
func rpcOnline(t *testing.T, client *rpc.Client, user, addr string) {
	t.Helper()
	creds := protocol.CredentialsArgs{Username: user, PasswordHash: credentials.Digest(user), Address: addr}
	callOK(t, client, protocol.MethodRegister, creds)
	require.True(t, callOK(t, client, protocol.MethodLogin, creds))
	require.True(t, callOK(t, client, protocol.MethodRegisterEndpoint, protocol.EndpointArgs{Username: user, Handle: addr}))
}

func TestRPCRegisterAndLogin(t *testing.T) {
	srv, cleanup := setupTestServer(t)
	defer cleanup()
	client := dialDirectory(t, srv)

	creds := protocol.CredentialsArgs{Username: "alice", PasswordHash: credentials.Digest("secret"), Address: "localhost:5000"}
	assert.True(t, callOK(t, client, protocol.MethodRegister, creds))
	assert.False(t, callOK(t, client, protocol.MethodRegister, creds))
	assert.True(t, callOK(t, client, protocol.MethodUserExists, protocol.UserArgs{Username: "alice"}))
	assert.False(t, callOK(t, client, protocol.MethodUserExists, protocol.UserArgs{Username: "bob"}))

	bad := creds
	bad.PasswordHash = credentials.Digest("wrong")
	assert.False(t, callOK(t, client, protocol.MethodLogin, bad))
	assert.True(t, callOK(t, client, protocol.MethodLogin, creds))

	var addr protocol.AddressReply
	require.NoError(t, client.Call(protocol.MethodResolveAddress, protocol.UserArgs{Username: "alice"}, &addr))
	assert.True(t, addr.Found)
	assert.Equal(t, "localhost:5000", addr.Address)

	assert.True(t, callOK(t, client, protocol.MethodLogout, protocol.UserArgs{Username: "alice"}))
	var gone protocol.AddressReply
	require.NoError(t, client.Call(protocol.MethodResolveAddress, protocol.UserArgs{Username: "alice"}, &gone))
	assert.False(t, gone.Found)
}

func TestRPCFriendshipNotifications(t *testing.T) {
	srv, cleanup := setupTestServer(t)
	defer cleanup()
	client := dialDirectory(t, srv)

	aliceAddr, alice := startNotifyEndpoint(t)
	bobAddr, bob := startNotifyEndpoint(t)
	rpcOnline(t, client, "alice", aliceAddr)
	rpcOnline(t, client, "bob", bobAddr)

	require.True(t, callOK(t, client, protocol.MethodRequestFriendship, protocol.PairArgs{User: "alice", Other: "bob"}))
	assert.False(t, callOK(t, client, protocol.MethodRequestFriendship, protocol.PairArgs{User: "alice", Other: "bob"}))
	assert.Equal(t, []string{"alice"}, callList(t, client, protocol.MethodPendingRequests, "bob"))

	require.Eventually(t, func() bool { return len(bob.received()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, models.Event{Kind: models.EventFriendRequestReceived, Username: "alice"}, bob.received()[0])

	require.True(t, callOK(t, client, protocol.MethodAcceptRequest, protocol.PairArgs{User: "bob", Other: "alice"}))
	assert.Empty(t, callList(t, client, protocol.MethodPendingRequests, "bob"))
	assert.Equal(t, []string{"alice"}, callList(t, client, protocol.MethodFriends, "bob"))
	assert.Equal(t, []string{"bob"}, callList(t, client, protocol.MethodFriends, "alice"))
	assert.Equal(t, []string{"bob"}, callList(t, client, protocol.MethodOnlineFriends, "alice"))

	require.Eventually(t, func() bool {
		return len(alice.received()) == 1 && len(bob.received()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, models.Event{Kind: models.EventFriendshipAccepted, Username: "bob"}, alice.received()[0])
	assert.Equal(t, models.Event{Kind: models.EventFriendshipAccepted, Username: "alice"}, bob.received()[1])

	assert.True(t, callOK(t, client, protocol.MethodLogout, protocol.UserArgs{Username: "bob"}))
	require.Eventually(t, func() bool { return len(alice.received()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, models.Event{Kind: models.EventPeerDisconnected, Username: "bob"}, alice.received()[1])

	callOK(t, client, protocol.MethodLogin, protocol.CredentialsArgs{Username: "bob", PasswordHash: credentials.Digest("bob"), Address: bobAddr})
	require.Eventually(t, func() bool { return len(alice.received()) == 3 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, models.Event{Kind: models.EventPeerConnected, Username: "bob", Address: bobAddr}, alice.received()[2])
}

func TestRPCRejectRequest(t *testing.T) {
	srv, cleanup := setupTestServer(t)
	defer cleanup()
	client := dialDirectory(t, srv)

	for _, user := range []string{"alice", "bob"} {
		callOK(t, client, protocol.MethodRegister, protocol.CredentialsArgs{Username: user, PasswordHash: credentials.Digest(user)})
	}

	assert.False(t, callOK(t, client, protocol.MethodRejectRequest, protocol.PairArgs{User: "bob", Other: "alice"}))
	require.True(t, callOK(t, client, protocol.MethodRequestFriendship, protocol.PairArgs{User: "alice", Other: "bob"}))
	assert.True(t, callOK(t, client, protocol.MethodRejectRequest, protocol.PairArgs{User: "bob", Other: "alice"}))
	assert.Empty(t, callList(t, client, protocol.MethodPendingRequests, "bob"))
	assert.Empty(t, callList(t, client, protocol.MethodFriends, "bob"))
}

func TestRPCUnreachableEndpointMarksOffline(t *testing.T) {
	srv, cleanup := setupTestServer(t)
	defer cleanup()
	client := dialDirectory(t, srv)

	aliceAddr, _ := startNotifyEndpoint(t)
	deadAddr := closedAddr(t)

	rpcOnline(t, client, "alice", aliceAddr)
	rpcOnline(t, client, "bob", deadAddr)
	require.True(t, callOK(t, client, protocol.MethodRequestFriendship, protocol.PairArgs{User: "alice", Other: "bob"}))

	// the friendRequestReceived push to bob fails and takes bob offline
	require.Eventually(t, func() bool {
		var reply protocol.AddressReply
		err := client.Call(protocol.MethodResolveAddress, protocol.UserArgs{Username: "bob"}, &reply)
		return err == nil && !reply.Found
	}, 2*time.Second, 10*time.Millisecond)

	// the request itself survives
	assert.Equal(t, []string{"alice"}, callList(t, client, protocol.MethodPendingRequests, "bob"))
	assert.Equal(t, []string{"alice"}, srv.GetStats().Online)
}

func TestRPCEndpointWithoutLogin(t *testing.T) {
	srv, cleanup := setupTestServer(t)
	defer cleanup()
	client := dialDirectory(t, srv)

	callOK(t, client, protocol.MethodRegister, protocol.CredentialsArgs{Username: "alice", PasswordHash: credentials.Digest("pw")})
	assert.False(t, callOK(t, client, protocol.MethodRegisterEndpoint, protocol.EndpointArgs{Username: "alice", Handle: "localhost:5001"}))
	assert.True(t, callOK(t, client, protocol.MethodUnregisterEndpoint, protocol.UserArgs{Username: "alice"}))
}

func TestDirectoryPersistsAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "restart.db")
	config := &ServerConfig{ListenAddr: "127.0.0.1:0", BcryptCost: bcrypt.MinCost}

	first, err := db.New(path)
	require.NoError(t, err)
	srv, err := New(context.Background(), first, config)
	require.NoError(t, err)
	mustRegister(t, srv.Directory(), "alice", "bob")
	makeFriends(t, srv.Directory(), "alice", "bob")
	srv.Shutdown()
	require.NoError(t, first.Close())

	second, err := db.New(path)
	require.NoError(t, err)
	defer second.Close()
	srv, err = New(context.Background(), second, config)
	require.NoError(t, err)
	defer srv.Shutdown()

	assert.Equal(t, []string{"bob"}, srv.Directory().Friends("alice"))
	assert.True(t, srv.Directory().Login("bob", credentials.Digest("bob"), "localhost:5002"))
}

func TestShutdownIsIdempotent(t *testing.T) {
	srv, cleanup := setupTestServer(t)
	client := dialDirectory(t, srv)
	srv.Shutdown()

	var reply protocol.BoolReply
	assert.Error(t, client.Call(protocol.MethodUserExists, protocol.UserArgs{Username: "x"}, &reply))
	cleanup()
}

func TestAdminRouter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv, cleanup := setupTestServer(t)
	defer cleanup()

	mustRegister(t, srv.Directory(), "alice", "bob")
	require.True(t, srv.Directory().Login("alice", credentials.Digest("alice"), "localhost:5001"))

	shutdowns := 0
	router := NewAdminRouter(srv, func() { shutdowns++ })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var stats ServerStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.Registered)
	assert.Equal(t, []string{"alice"}, stats.Online)
	assert.Equal(t, 0, stats.Endpoints)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/shutdown", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Zero(t, shutdowns)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/shutdown", nil))
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, 1, shutdowns)
}
