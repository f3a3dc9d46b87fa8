package supervisor

import "os"

func exitProcess(code int) { os.Exit(code) }
