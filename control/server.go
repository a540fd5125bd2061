// go-sdspi
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-sdspi.
//
// go-sdspi is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-sdspi is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-sdspi; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

// Package control serves sector access to one card over HTTP
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	sdspi "github.com/ZaparooProject/go-sdspi"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

// DefaultAddress is used when the listen address has no port
const DefaultAddress = ":8532"

// Server exposes a Device over HTTP. Requests are handled one at a time so
// the card only ever sees one transaction.
type Server struct {
	dev     *sdspi.Device
	router  *mux.Router
	server  *http.Server
	mu      sync.Mutex
	srvLock sync.Mutex
}

// NewServer creates a server for dev
func NewServer(dev *sdspi.Device) *Server {
	s := &Server{dev: dev, router: mux.NewRouter().StrictSlash(true)}

	s.addRoute("status", http.MethodGet, "/status", s.status)
	s.addRoute("init", http.MethodPut, "/init", s.initCard)
	s.addRoute("read", http.MethodGet, "/sector/{lba:[0-9]+}", s.readSector)
	s.addRoute("write", http.MethodPut, "/sector/{lba:[0-9]+}", s.writeSector)
	return s
}

// Handler returns the router wrapped with request logging
func (s *Server) Handler() http.Handler {
	return handlers.CustomLoggingHandler(io.Discard, s.router, logRequest)
}

// Serve listens on address and blocks until Stop is called
func (s *Server) Serve(address string) error {
	if _, _, err := net.SplitHostPort(address); err != nil {
		address = net.JoinHostPort(address, DefaultAddress[1:])
	}

	s.srvLock.Lock()
	s.server = &http.Server{
		Addr:              address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.server
	s.srvLock.Unlock()

	log.Infof("sector server listening on %s", address)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("sector server failed: %w", err)
	}
	return nil
}

// Stop shuts the server down, waiting for in-flight requests
func (s *Server) Stop(ctx context.Context) error {
	s.srvLock.Lock()
	srv := s.server
	s.server = nil
	s.srvLock.Unlock()

	if srv == nil {
		return nil
	}
	log.Info("sector server stopping")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to stop sector server: %w", err)
	}
	return nil
}

func (s *Server) addRoute(name, method, pattern string, handler http.HandlerFunc) {
	s.router.Methods(method).Path(pattern).Name(name).Handler(handler)
}

func logRequest(_ io.Writer, params handlers.LogFormatterParams) {
	log.WithFields(log.Fields{
		"remote":   params.Request.RemoteAddr,
		"method":   params.Request.Method,
		"path":     params.URL.Path,
		"status":   params.StatusCode,
		"size":     params.Size,
		"duration": time.Since(params.TimeStamp),
	}).Debug("sector server request")
}

func (s *Server) status(w http.ResponseWriter, req *http.Request) {
	s.mu.Lock()
	stat := newStatus(s.dev.Bus().Type(), s.dev.Info())
	s.mu.Unlock()

	if wantsText(req) {
		w.Header().Set("Content-Type", "text/plain; charset=UTF-8")
		w.WriteHeader(http.StatusOK)
		if _, err := fmt.Fprintf(w, "%s\n", stat); err != nil {
			log.Errorf("problem sending reply: %v", err)
		}
		return
	}
	sendJSONReply(stat, http.StatusOK, w)
}

func (s *Server) initCard(w http.ResponseWriter, req *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if handleError(s.dev.InitContext(req.Context()), w) {
		return
	}
	if _, err := s.dev.ReadCID(req.Context()); err != nil {
		log.Warnf("failed to read CID after init: %v", err)
	}
	sendJSONReply(newStatus(s.dev.Bus().Type(), s.dev.Info()), http.StatusOK, w)
}

func (s *Server) readSector(w http.ResponseWriter, req *http.Request) {
	lba, ok := getLBA(w, req)
	if !ok {
		return
	}

	buf := make([]byte, sdspi.SectorSize)
	s.mu.Lock()
	err := s.dev.ReadBlockContext(req.Context(), lba, buf)
	s.mu.Unlock()
	if handleError(err, w) {
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(buf)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf); err != nil {
		log.Errorf("problem sending sector %d: %v", lba, err)
	}
}

func (s *Server) writeSector(w http.ResponseWriter, req *http.Request) {
	lba, ok := getLBA(w, req)
	if !ok {
		return
	}

	buf, err := io.ReadAll(io.LimitReader(req.Body, sdspi.SectorSize+1))
	if err != nil {
		sendError(fmt.Errorf("failed to read request body: %w", err), http.StatusBadRequest, w)
		return
	}
	if len(buf) != sdspi.SectorSize {
		sendError(fmt.Errorf("%w: got %d bytes", sdspi.ErrInvalidBuffer, len(buf)), http.StatusBadRequest, w)
		return
	}

	s.mu.Lock()
	err = s.dev.WriteBlockContext(req.Context(), lba, buf)
	s.mu.Unlock()
	if handleError(err, w) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func wantsText(req *http.Request) bool {
	return strings.HasPrefix(req.Header.Get("Accept"), "text/plain")
}

func getLBA(w http.ResponseWriter, req *http.Request) (uint32, bool) {
	lba, err := strconv.ParseUint(mux.Vars(req)["lba"], 10, 32)
	if err != nil {
		sendError(fmt.Errorf("%w: %w", sdspi.ErrAddressOutOfRange, err), http.StatusBadRequest, w)
		return 0, false
	}
	return uint32(lba), true
}

// statusFor maps a driver error to an HTTP status
func statusFor(err error) int {
	switch sdspi.KindOf(err) {
	case sdspi.KindNotInitialized:
		return http.StatusConflict
	case sdspi.KindInvalidArgument:
		return http.StatusBadRequest
	case sdspi.KindProtocolTimeout, sdspi.KindDataTimeout, sdspi.KindWriteTimeout:
		return http.StatusGatewayTimeout
	case sdspi.KindCommandRejected, sdspi.KindCRCError, sdspi.KindWriteRejected:
		return http.StatusBadGateway
	case sdspi.KindBus:
		return http.StatusServiceUnavailable
	default:
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return http.StatusRequestTimeout
		}
		return http.StatusInternalServerError
	}
}

func handleError(err error, w http.ResponseWriter) bool {
	if err == nil {
		return false
	}
	sendError(err, statusFor(err), w)
	return true
}

func sendError(err error, statusCode int, w http.ResponseWriter) {
	log.Errorf("%v", err)
	sendJSONReply(&ErrorReply{Error: err.Error(), Kind: sdspi.KindOf(err).String()}, statusCode, w)
}

func sendJSONReply(obj any, statusCode int, w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(obj); err != nil {
		log.Errorf("problem writing reply: %v", err)
	}
}
