//go:build !debug

package dposengine

import (
	"github.com/gordian-engine/gdpos/dpos/dposconsensus"
	"github.com/gordian-engine/gdpos/gassert"
)

func invariantLibMonotonic(gassert.Env, uint64, uint64) {}

func invariantRevealsBound(gassert.Env, dposconsensus.HashScheme, *dposconsensus.Round, *dposconsensus.Round) {}

func invariantOrdersContiguous(gassert.Env, *dposconsensus.Round) {}
