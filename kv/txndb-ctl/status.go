package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/ngaut/log"
	"github.com/pingcap-incubator/txndb/kv/txndb"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/unrolled/render"
	"github.com/urfave/negroni"
)

type statusInfo struct {
	GitHash        string   `json:"git_hash"`
	Path           string   `json:"path"`
	ThreadMode     string   `json:"thread_mode"`
	ColumnFamilies []string `json:"column_families"`
}

type statusHandler struct {
	db *txndb.TransactionDB
	rd *render.Render
}

func (h *statusHandler) Status(w http.ResponseWriter, r *http.Request) {
	h.rd.JSON(w, http.StatusOK, &statusInfo{
		GitHash:        gitHash,
		Path:           h.db.Path(),
		ThreadMode:     h.db.ThreadMode().String(),
		ColumnFamilies: h.db.ColumnFamilyNames(),
	})
}

func (h *statusHandler) GetCF(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	cf := h.db.CFHandle(name)
	if cf == nil {
		h.rd.JSON(w, http.StatusNotFound, "column family "+name+" not found")
		return
	}
	defer cf.Release()
	keys := 0
	it := h.db.FullIteratorCF(cf, txndb.ModeStart)
	defer it.Close()
	for it.Next() {
		keys++
	}
	if err := it.Err(); err != nil {
		h.rd.JSON(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.rd.JSON(w, http.StatusOK, map[string]interface{}{"name": name, "keys": keys})
}

func createRouter(db *txndb.TransactionDB) *mux.Router {
	rd := render.New(render.Options{
		IndentJSON: true,
	})
	h := &statusHandler{db: db, rd: rd}

	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	router.HandleFunc("/status", h.Status).Methods("GET")
	router.HandleFunc("/api/v1/cf/{name}", h.GetCF).Methods("GET")
	return router
}

// serveStatus serves the status API in the background until the returned func is called.
func serveStatus(addr string, db *txndb.TransactionDB) func() {
	n := negroni.New(negroni.NewRecovery())
	n.UseHandler(createRouter(db))
	srv := &http.Server{Addr: addr, Handler: n}
	go func() {
		log.Infof("listening on %v", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("status server: %v", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Warnf("shutdown status server: %v", err)
		}
	}
}
