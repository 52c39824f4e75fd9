package main

import "paie/internal/app/server"

func main() {
	server.Run()
}
