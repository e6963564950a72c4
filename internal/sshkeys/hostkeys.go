/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package sshkeys generates the SSH host key pairs stored in each
// DevServer's host-key Secret.
package sshkeys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/pem"
	"fmt"

	"golang.org/x/crypto/ssh"
)

const rsaKeyBits = 3072

// GenerateHostKeys produces RSA, ECDSA and Ed25519 host key pairs in
// OpenSSH encoding, keyed the way sshd expects them on disk:
// ssh_host_<type>_key and ssh_host_<type>_key.pub. The result is ready
// to be used as Secret data.
func GenerateHostKeys() (map[string][]byte, error) {
	data := make(map[string][]byte, 6)

	rsaKey, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, fmt.Errorf("generating rsa host key: %w", err)
	}
	if err := addKeyPair(data, "rsa", rsaKey, &rsaKey.PublicKey); err != nil {
		return nil, err
	}

	ecdsaKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating ecdsa host key: %w", err)
	}
	if err := addKeyPair(data, "ecdsa", ecdsaKey, &ecdsaKey.PublicKey); err != nil {
		return nil, err
	}

	edPub, edPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating ed25519 host key: %w", err)
	}
	if err := addKeyPair(data, "ed25519", edPriv, edPub); err != nil {
		return nil, err
	}

	return data, nil
}

func addKeyPair(data map[string][]byte, keyType string, private crypto.PrivateKey, public crypto.PublicKey) error {
	block, err := ssh.MarshalPrivateKey(private, "")
	if err != nil {
		return fmt.Errorf("encoding %s host key: %w", keyType, err)
	}

	sshPub, err := ssh.NewPublicKey(public)
	if err != nil {
		return fmt.Errorf("encoding %s host public key: %w", keyType, err)
	}

	name := fmt.Sprintf("ssh_host_%s_key", keyType)
	data[name] = pem.EncodeToMemory(block)
	data[name+".pub"] = ssh.MarshalAuthorizedKey(sshPub)
	return nil
}
