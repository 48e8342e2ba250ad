package main

import (
	"log"
	"sync"

	"golang.org/x/time/rate"

	"fleetcommand/pkg/command"
	"fleetcommand/pkg/config"
	"fleetcommand/pkg/store"
	"fleetcommand/pkg/travel"
)

var (
	// Infrastructure
	cfg      *config.Config
	db       *store.Store
	InfoLog  *log.Logger
	ErrorLog *log.Logger

	// Command layer
	fleetCmd *command.Facade
	chart    *travel.Service

	// Locking. The facade is single-threaded; every handler and the tick
	// loop take stateLock before touching it.
	stateLock sync.Mutex

	// Rate Limiting
	ipLimiters = make(map[string]*rate.Limiter)
	ipLock     sync.Mutex
)
