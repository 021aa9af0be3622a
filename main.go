// SPDX-License-Identifier: MPL-2.0

package main

import cmd "github.com/vibeos/vibeos/cmd/vibeos"

func main() {
	cmd.Execute()
}
