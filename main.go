// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Chladni - Vibrating plate scanner controller
//
// A CLI tool for safely positioning the sensor of the vibrating plate lab
// over its line-based serial protocol.

package main

import (
	"fmt"
	"os"

	"github.com/Thermoquad/chladni/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
