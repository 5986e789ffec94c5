// Copyright (C) The ProteoNexus Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package main

import (
	"github.com/proteonexus/pqtl"
)

func main() {
	pqtl.Main()
}
