package tinkv

import (
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/tidwall/match"
	"github.com/tidwall/redcon"
	"go.uber.org/zap"
)

// DefaultServerAddr is the address the server listens on unless told
// otherwise.
const DefaultServerAddr = "127.0.0.1:7379"

// Server exposes a Store over the Redis wire protocol. The engine is
// single-writer, so every command is serialized behind one mutex.
type Server struct {
	store   *Store
	addr    string
	slogger *zap.SugaredLogger
	mu      sync.Mutex
}

// NewServer wraps store in a RESP server listening on addr.
func NewServer(store *Store, addr string, logger *zap.SugaredLogger) *Server {
	if addr == "" {
		addr = DefaultServerAddr
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Server{store: store, addr: addr, slogger: logger}
}

// ListenAndServe serves until the listener fails or is closed.
func (srv *Server) ListenAndServe() error {
	srv.slogger.Infow("server listening", "addr", srv.addr)
	return redcon.ListenAndServe(srv.addr,
		srv.handle,
		func(conn redcon.Conn) bool {
			srv.slogger.Debugw("client connected", "remote", conn.RemoteAddr())
			return true
		},
		func(conn redcon.Conn, err error) {
			srv.slogger.Debugw("client disconnected", "remote", conn.RemoteAddr(), "error", err)
		},
	)
}

func (srv *Server) handle(conn redcon.Conn, cmd redcon.Command) {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	name := strings.ToLower(string(cmd.Args[0]))
	switch name {
	case "ping":
		srv.ping(conn, cmd)
	case "get":
		srv.get(conn, cmd)
	case "mget":
		srv.mget(conn, cmd)
	case "set":
		srv.set(conn, cmd)
	case "mset":
		srv.mset(conn, cmd)
	case "del":
		srv.del(conn, cmd)
	case "exists":
		srv.exists(conn, cmd)
	case "keys":
		srv.keys(conn, cmd)
	case "dbsize":
		conn.WriteInt(srv.store.Len())
	case "info":
		srv.info(conn, cmd)
	case "command":
		conn.WriteArray(0)
	case "flushdb", "flushall":
		srv.flush(conn)
	case "compact":
		if err := srv.store.Compact(); err != nil {
			conn.WriteError("ERR " + err.Error())
			return
		}
		conn.WriteString("OK")
	case "quit":
		conn.WriteString("OK")
		conn.Close()
	default:
		conn.WriteError(fmt.Sprintf("ERR unknown command '%s'", name))
	}
}

func (srv *Server) ping(conn redcon.Conn, cmd redcon.Command) {
	switch len(cmd.Args) {
	case 1:
		conn.WriteString("PONG")
	case 2:
		conn.WriteBulk(cmd.Args[1])
	default:
		conn.WriteError("ERR wrong number of arguments for 'ping' command")
	}
}

func (srv *Server) get(conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) != 2 {
		conn.WriteError("ERR wrong number of arguments for 'get' command")
		return
	}
	value, err := srv.store.Get(cmd.Args[1])
	if err != nil {
		conn.WriteError("ERR " + err.Error())
		return
	}
	if value == nil {
		conn.WriteNull()
		return
	}
	conn.WriteBulk(value)
}

func (srv *Server) mget(conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) < 2 {
		conn.WriteError("ERR wrong number of arguments for 'mget' command")
		return
	}
	conn.WriteArray(len(cmd.Args) - 1)
	for _, key := range cmd.Args[1:] {
		value, err := srv.store.Get(key)
		if err != nil || value == nil {
			conn.WriteNull()
			continue
		}
		conn.WriteBulk(value)
	}
}

func (srv *Server) set(conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) != 3 {
		conn.WriteError("ERR wrong number of arguments for 'set' command")
		return
	}
	if err := srv.store.Set(cmd.Args[1], cmd.Args[2]); err != nil {
		conn.WriteError("ERR " + err.Error())
		return
	}
	conn.WriteString("OK")
}

func (srv *Server) mset(conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) < 3 || len(cmd.Args)%2 != 1 {
		conn.WriteError("ERR wrong number of arguments for 'mset' command")
		return
	}
	for i := 1; i < len(cmd.Args); i += 2 {
		if err := srv.store.Set(cmd.Args[i], cmd.Args[i+1]); err != nil {
			conn.WriteError("ERR " + err.Error())
			return
		}
	}
	conn.WriteString("OK")
}

func (srv *Server) del(conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) < 2 {
		conn.WriteError("ERR wrong number of arguments for 'del' command")
		return
	}
	removed := 0
	for _, key := range cmd.Args[1:] {
		err := srv.store.Remove(key)
		if err == nil {
			removed++
			continue
		}
		if err != ErrKeyNotFound {
			conn.WriteError("ERR " + err.Error())
			return
		}
	}
	conn.WriteInt(removed)
}

func (srv *Server) exists(conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) < 2 {
		conn.WriteError("ERR wrong number of arguments for 'exists' command")
		return
	}
	found := 0
	for _, key := range cmd.Args[1:] {
		if srv.store.keydir.contains(key) {
			found++
		}
	}
	conn.WriteInt(found)
}

func (srv *Server) keys(conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) != 2 {
		conn.WriteError("ERR wrong number of arguments for 'keys' command")
		return
	}
	pattern := string(cmd.Args[1])
	var matched [][]byte
	for _, key := range srv.store.Keys() {
		if match.Match(string(key), pattern) {
			matched = append(matched, key)
		}
	}
	conn.WriteArray(len(matched))
	for _, key := range matched {
		conn.WriteBulk(key)
	}
}

func (srv *Server) info(conn redcon.Conn, cmd redcon.Command) {
	section := ""
	if len(cmd.Args) == 2 {
		section = strings.ToLower(string(cmd.Args[1]))
	}
	stats := srv.store.Stats()

	var b strings.Builder
	if section == "" || section == "server" {
		b.WriteString("# Server\r\n")
		fmt.Fprintf(&b, "os:%s\r\n", runtime.GOOS)
		fmt.Fprintf(&b, "tcp_port:%s\r\n", srv.addr)
		b.WriteString("\r\n")
	}
	if section == "" || section == "keyspace" {
		b.WriteString("# Keyspace\r\n")
		fmt.Fprintf(&b, "db0:keys=%d\r\n", stats.TotalActiveEntries)
		b.WriteString("\r\n")
	}
	if section == "" || section == "stats" {
		b.WriteString("# Stats\r\n")
		fmt.Fprintf(&b, "total_stale_entries:%d\r\n", stats.TotalStaleEntries)
		fmt.Fprintf(&b, "size_of_stale_entries:%d\r\n", stats.SizeOfStaleEntries)
		fmt.Fprintf(&b, "total_data_files:%d\r\n", stats.TotalDataFiles)
		fmt.Fprintf(&b, "size_of_all_data_files:%d\r\n", stats.SizeOfAllDataFiles)
		b.WriteString("\r\n")
	}
	conn.WriteBulkString(b.String())
}

// flush removes every key and compacts, reclaiming the disk space
// immediately.
func (srv *Server) flush(conn redcon.Conn) {
	for _, key := range srv.store.Keys() {
		if err := srv.store.Remove(key); err != nil {
			conn.WriteError("ERR " + err.Error())
			return
		}
	}
	if err := srv.store.Compact(); err != nil {
		conn.WriteError("ERR " + err.Error())
		return
	}
	conn.WriteString("OK")
}
