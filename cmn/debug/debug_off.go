//go:build !debug

// Package debug provides build-tag gated assertions. In release builds
// (this file) every call compiles to nothing, same as the teacher's
// cmn/debug package split.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package debug

const Enabled = false

func Assert(_ bool, _ ...interface{})         {}
func Assertf(_ bool, _ string, _ ...interface{}) {}
func AssertFunc(_ func() bool, _ ...interface{}) {}
func AssertNoErr(_ error)                     {}
func Func(_ func())                           {}
func Infof(_ string, _ ...interface{})        {}
