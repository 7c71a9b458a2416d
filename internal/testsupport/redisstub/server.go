// Package redisstub runs a small in-process RESP2 server that understands the
// subset of Redis commands used by the session bridge.
package redisstub

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

type Options struct {
	Password string
}

// Entry is a stream entry with its fields in insertion order.
type Entry struct {
	ID     string
	Fields []string
}

// Value returns the value stored under field.
func (e Entry) Value(field string) string {
	for i := 0; i+1 < len(e.Fields); i += 2 {
		if e.Fields[i] == field {
			return e.Fields[i+1]
		}
	}
	return ""
}

type Server struct {
	opts     Options
	listener net.Listener
	addr     string
	mu       sync.Mutex
	strings  map[string]string
	hashes   map[string]map[string]string
	lists    map[string][]string
	streams  map[string][]Entry
	lastID   int64
	execs    int
	closed   chan struct{}
}

func Start(opts Options) (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	server := &Server{
		opts:     opts,
		listener: ln,
		addr:     ln.Addr().String(),
		strings:  make(map[string]string),
		hashes:   make(map[string]map[string]string),
		lists:    make(map[string][]string),
		streams:  make(map[string][]Entry),
		closed:   make(chan struct{}),
	}
	go server.serve()
	return server, nil
}

func (s *Server) Addr() string {
	return s.addr
}

func (s *Server) Close() error {
	select {
	case <-s.closed:
		return nil
	default:
	}
	close(s.closed)
	return s.listener.Close()
}

// Transactions reports how many MULTI/EXEC blocks have been executed.
func (s *Server) Transactions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.execs
}

// Entries returns a copy of the entries appended to stream.
func (s *Server) Entries(stream string) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.streams[stream]...)
}

func (s *Server) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
			}
			continue
		}
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)
	authenticated := s.opts.Password == ""
	var queued [][]string
	inMulti := false
	for {
		args, err := readArray(reader)
		if err != nil {
			return
		}
		if len(args) == 0 {
			if writeError(writer, "ERR wrong number of arguments") != nil {
				return
			}
			continue
		}
		var werr error
		switch strings.ToUpper(args[0]) {
		case "HELLO":
			// Forces clients back onto RESP2.
			werr = writeError(writer, "ERR unknown command 'HELLO'")
		case "PING":
			werr = writeSimpleString(writer, "PONG")
		case "CLIENT", "SELECT":
			werr = writeSimpleString(writer, "OK")
		case "AUTH":
			password := args[len(args)-1]
			if len(args) < 2 || len(args) > 3 {
				werr = writeError(writer, "ERR wrong number of arguments for 'auth'")
			} else if s.opts.Password == "" || password == s.opts.Password {
				authenticated = true
				werr = writeSimpleString(writer, "OK")
			} else {
				werr = writeError(writer, "WRONGPASS invalid username-password pair")
			}
		case "MULTI":
			if inMulti {
				werr = writeError(writer, "ERR MULTI calls can not be nested")
				break
			}
			inMulti, queued = true, nil
			werr = writeSimpleString(writer, "OK")
		case "DISCARD":
			inMulti, queued = false, nil
			werr = writeSimpleString(writer, "OK")
		case "EXEC":
			if !inMulti {
				werr = writeError(writer, "ERR EXEC without MULTI")
				break
			}
			werr = s.exec(writer, queued)
			inMulti, queued = false, nil
		default:
			if !authenticated {
				werr = writeError(writer, "NOAUTH Authentication required.")
				break
			}
			if inMulti {
				queued = append(queued, args)
				werr = writeSimpleString(writer, "QUEUED")
				break
			}
			werr = s.dispatch(writer, args)
		}
		if werr != nil {
			return
		}
	}
}

func (s *Server) dispatch(w *bufio.Writer, args []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apply(w, args)
}

// exec runs queued commands under one lock and replies with their results as
// a single array.
func (s *Server) exec(w *bufio.Writer, queued [][]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.execs++
	if _, err := fmt.Fprintf(w, "*%d\r\n", len(queued)); err != nil {
		return err
	}
	for _, args := range queued {
		if err := s.apply(w, args); err != nil {
			return err
		}
	}
	return w.Flush()
}

func (s *Server) apply(w *bufio.Writer, args []string) error {
	cmd := strings.ToUpper(args[0])
	switch cmd {
	case "GET":
		if len(args) != 2 {
			return writeArity(w, cmd)
		}
		value, ok := s.strings[args[1]]
		if !ok {
			return writeBulkNil(w)
		}
		return writeBulkString(w, value)
	case "SET":
		if len(args) < 3 {
			return writeArity(w, cmd)
		}
		s.strings[args[1]] = args[2]
		return writeSimpleString(w, "OK")
	case "DEL":
		if len(args) < 2 {
			return writeArity(w, cmd)
		}
		var removed int64
		for _, key := range args[1:] {
			if s.remove(key) {
				removed++
			}
		}
		return writeInteger(w, removed)
	case "HSET":
		if len(args) < 4 || len(args)%2 != 0 {
			return writeArity(w, cmd)
		}
		hash, ok := s.hashes[args[1]]
		if !ok {
			hash = make(map[string]string)
			s.hashes[args[1]] = hash
		}
		var added int64
		for i := 2; i+1 < len(args); i += 2 {
			if _, exists := hash[args[i]]; !exists {
				added++
			}
			hash[args[i]] = args[i+1]
		}
		return writeInteger(w, added)
	case "HEXISTS":
		if len(args) != 3 {
			return writeArity(w, cmd)
		}
		if _, ok := s.hashes[args[1]][args[2]]; ok {
			return writeInteger(w, 1)
		}
		return writeInteger(w, 0)
	case "HGETALL":
		if len(args) != 2 {
			return writeArity(w, cmd)
		}
		values := make([]interface{}, 0, len(s.hashes[args[1]])*2)
		for field, value := range s.hashes[args[1]] {
			values = append(values, field, value)
		}
		return writeArray(w, values)
	case "RPUSH":
		if len(args) < 3 {
			return writeArity(w, cmd)
		}
		s.lists[args[1]] = append(s.lists[args[1]], args[2:]...)
		return writeInteger(w, int64(len(s.lists[args[1]])))
	case "LRANGE":
		if len(args) != 4 {
			return writeArity(w, cmd)
		}
		start, err1 := strconv.Atoi(args[2])
		stop, err2 := strconv.Atoi(args[3])
		if err1 != nil || err2 != nil {
			return writeError(w, "ERR value is not an integer or out of range")
		}
		return writeArray(w, toInterfaces(listRange(s.lists[args[1]], start, stop)))
	case "XADD":
		if len(args) < 5 || len(args)%2 == 0 {
			return writeArity(w, cmd)
		}
		id := args[2]
		if id == "*" {
			id = s.nextID()
		}
		entry := Entry{ID: id, Fields: append([]string(nil), args[3:]...)}
		s.streams[args[1]] = append(s.streams[args[1]], entry)
		return writeBulkString(w, id)
	case "XLEN":
		if len(args) != 2 {
			return writeArity(w, cmd)
		}
		return writeInteger(w, int64(len(s.streams[args[1]])))
	case "XRANGE":
		if len(args) < 4 {
			return writeArity(w, cmd)
		}
		entries := s.streams[args[1]]
		values := make([]interface{}, 0, len(entries))
		for _, entry := range entries {
			values = append(values, []interface{}{entry.ID, toInterfaces(entry.Fields)})
		}
		return writeArray(w, values)
	default:
		return writeError(w, fmt.Sprintf("ERR unknown command '%s'", args[0]))
	}
}

func (s *Server) remove(key string) bool {
	removed := false
	if _, ok := s.strings[key]; ok {
		delete(s.strings, key)
		removed = true
	}
	if _, ok := s.hashes[key]; ok {
		delete(s.hashes, key)
		removed = true
	}
	if _, ok := s.lists[key]; ok {
		delete(s.lists, key)
		removed = true
	}
	if _, ok := s.streams[key]; ok {
		delete(s.streams, key)
		removed = true
	}
	return removed
}

func (s *Server) nextID() string {
	ms := time.Now().UnixMilli()
	if ms <= s.lastID {
		ms = s.lastID + 1
	}
	s.lastID = ms
	return fmt.Sprintf("%d-0", ms)
}

func listRange(list []string, start, stop int) []string {
	n := len(list)
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return nil
	}
	return list[start : stop+1]
}

func toInterfaces(values []string) []interface{} {
	out := make([]interface{}, 0, len(values))
	for _, value := range values {
		out = append(out, value)
	}
	return out
}

func readArray(r *bufio.Reader) ([]string, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if prefix != '*' {
		return nil, fmt.Errorf("unexpected prefix %q", prefix)
	}
	length, err := readLength(r)
	if err != nil {
		return nil, err
	}
	args := make([]string, 0, length)
	for i := 0; i < length; i++ {
		arg, err := readBulkString(r)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}
	return args, nil
}

func readLength(r *bufio.Reader) (int, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return 0, err
	}
	line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
	return strconv.Atoi(line)
}

func readBulkString(r *bufio.Reader) (string, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	if prefix != '$' {
		return "", fmt.Errorf("unexpected prefix %q", prefix)
	}
	length, err := readLength(r)
	if err != nil {
		return "", err
	}
	if length < 0 {
		return "", nil
	}
	buf := make([]byte, length+2)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf[:length]), nil
}

func writeArity(w *bufio.Writer, cmd string) error {
	return writeError(w, fmt.Sprintf("ERR wrong number of arguments for '%s'", strings.ToLower(cmd)))
}

func writeSimpleString(w *bufio.Writer, value string) error {
	if _, err := fmt.Fprintf(w, "+%s\r\n", value); err != nil {
		return err
	}
	return w.Flush()
}

func writeBulkString(w *bufio.Writer, value string) error {
	if err := writeBulkStringRaw(w, value); err != nil {
		return err
	}
	return w.Flush()
}

func writeBulkNil(w *bufio.Writer) error {
	if _, err := w.WriteString("$-1\r\n"); err != nil {
		return err
	}
	return w.Flush()
}

func writeInteger(w *bufio.Writer, value int64) error {
	if _, err := fmt.Fprintf(w, ":%d\r\n", value); err != nil {
		return err
	}
	return w.Flush()
}

func writeArray(w *bufio.Writer, values []interface{}) error {
	if err := writeArrayRaw(w, values); err != nil {
		return err
	}
	return w.Flush()
}

func writeArrayRaw(w *bufio.Writer, values []interface{}) error {
	if _, err := fmt.Fprintf(w, "*%d\r\n", len(values)); err != nil {
		return err
	}
	for _, value := range values {
		var err error
		switch v := value.(type) {
		case string:
			err = writeBulkStringRaw(w, v)
		case int64:
			_, err = fmt.Fprintf(w, ":%d\r\n", v)
		case []interface{}:
			err = writeArrayRaw(w, v)
		default:
			err = writeBulkStringRaw(w, fmt.Sprint(v))
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func writeBulkStringRaw(w *bufio.Writer, value string) error {
	_, err := fmt.Fprintf(w, "$%d\r\n%s\r\n", len(value), value)
	return err
}

func writeError(w *bufio.Writer, msg string) error {
	if _, err := fmt.Fprintf(w, "-%s\r\n", msg); err != nil {
		return err
	}
	return w.Flush()
}
