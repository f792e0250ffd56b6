package main

import (
	"flag"
	"log"
	"net/http"

	"github.com/Rajchodisetti/tradeloop/internal/stubs"
)

func main() {
	addr := flag.String("addr", ":8091", "listen address")
	flag.Parse()

	srv := stubs.NewBrokerServer()
	log.Printf("stub broker listening on %s", *addr)
	if err := http.ListenAndServe(*addr, srv.Handler()); err != nil {
		log.Fatal(err)
	}
}
