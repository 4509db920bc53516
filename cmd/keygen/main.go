// Command keygen mints a credential for use as OPERATOR_API_KEY or as a
// payer key during development. The private seed exists only in the printed
// credential.
package main

import (
	"encoding/base64"
	"encoding/json"
	"log"
	"os"

	"github.com/punchamoorthee/tunnelpay/internal/apikey"
)

func main() {
	credential, pub, err := apikey.Generate()
	if err != nil {
		log.Fatalf("Key generation failed: %v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(map[string]string{
		"api_key":    credential,
		"hint":       apikey.Hint(credential),
		"public_key": base64.StdEncoding.EncodeToString(pub),
		"address":    apikey.Address(pub),
	})
}
