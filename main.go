// Package main is the entry point of the cvefeed-backend microservice, which mirrors
// the NVD CVE feed into ArangoDB and serves it over REST and GraphQL.
package main

import "github.com/ortelius/cvefeed-backend/cmd"

func main() {
	cmd.Execute()
}
