package cmd

import (
	"fmt"
)

const banner = `
                         _                   _
   __ _  __ _  ___ _ __ | |_ __ _  __ _  ___| |_ ___
  / _` + "`" + ` |/ _` + "`" + ` |/ _ \ '_ \| __/ _` + "`" + ` |/ _` + "`" + ` |/ _ \ __/ _ \
 | (_| | (_| |  __/ | | | || (_| | (_| |  __/ ||  __/
  \__,_|\__, |\___|_| |_|\__\__, |\__,_|\___|\__\___|
        |___/               |___/
`

func printBanner() {
	fmt.Printf("\x1b[34m%s\x1b[0m", banner)
	fmt.Printf("\x1b[32m  Agent Tool Gateway - Version %s\x1b[0m\n\n", Version)
}
