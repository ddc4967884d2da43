// Package pgwire is the postgres-wire-protocol frontend collaborator
// interface: the surface a SQL frontend listener would speak to clients
// (psql, JDBC, etc.) before handing parsed queries to the batch-query
// executor. Per spec.md §6 "Out of scope" no SQL parser or real wire
// protocol implementation ships here, only the interface plus a minimal
// stub handshake that answers each simple query with a CommandComplete
// carrying the handler's row count. No pack example carries a
// postgres wire protocol *server* (evalgo-org-eve's jackc/pgx is a client
// driver, the opposite side of this interface), so this is standard
// library only rather than an ungrounded third-party pull-in.
package pgwire

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"net"
)

// QueryHandler executes one SQL statement and returns its result rows.
// A real frontend would implement this by planning/scheduling through
// pkg/scheduler and reading back from pkg/streaming/executor.BatchQuery.
type QueryHandler interface {
	Query(ctx context.Context, sql string) ([][]interface{}, error)
}

// Server accepts postgres-wire connections and dispatches simple-query
// messages to a QueryHandler. Only the startup handshake and the simple
// query ('Q') message are handled; extended query, auth, and SSL
// negotiation are not implemented (non-goal: no SQL surface in this repo).
type Server struct {
	handler QueryHandler
}

func NewServer(handler QueryHandler) *Server { return &Server{handler: handler} }

func (s *Server) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)

	if err := s.readStartup(r); err != nil {
		return
	}
	if _, err := conn.Write(authOKMessage()); err != nil {
		return
	}

	for {
		msgType, body, err := readMessage(r)
		if err != nil {
			return
		}
		if msgType != 'Q' {
			continue
		}
		sql := string(body[:len(body)-1]) // trailing NUL
		rows, err := s.handler.Query(context.Background(), sql)
		if err != nil {
			conn.Write(errorResponse(err))
			continue
		}
		conn.Write(commandComplete(len(rows)))
	}
}

func (s *Server) readStartup(r *bufio.Reader) error {
	var length int32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return err
	}
	payload := make([]byte, length-4)
	_, err := r.Read(payload)
	return err
}

func readMessage(r *bufio.Reader) (byte, []byte, error) {
	msgType, err := r.ReadByte()
	if err != nil {
		return 0, nil, err
	}
	var length int32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return 0, nil, err
	}
	body := make([]byte, length-4)
	if _, err := r.Read(body); err != nil {
		return 0, nil, err
	}
	return msgType, body, nil
}

func authOKMessage() []byte {
	buf := make([]byte, 9)
	buf[0] = 'R'
	binary.BigEndian.PutUint32(buf[1:5], 8)
	return buf
}

func commandComplete(rowCount int) []byte {
	tag := fmt.Sprintf("SELECT %d", rowCount)
	body := append([]byte(tag), 0)
	buf := make([]byte, 0, 5+len(body))
	buf = append(buf, 'C')
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(4+len(body)))
	buf = append(buf, lenBuf...)
	buf = append(buf, body...)
	return buf
}

func errorResponse(err error) []byte {
	msg := err.Error()
	body := append([]byte("SERROR\x00M"+msg), 0, 0)
	buf := make([]byte, 0, 5+len(body))
	buf = append(buf, 'E')
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(4+len(body)))
	buf = append(buf, lenBuf...)
	buf = append(buf, body...)
	return buf
}
