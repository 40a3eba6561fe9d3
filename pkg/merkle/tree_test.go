// Copyright 2025 Certen Protocol

package merkle

import (
	"bytes"
	"crypto/sha256"
	"testing"
)

func TestBuildTree_SingleLeaf(t *testing.T) {
	leaf := sha256.Sum256([]byte("test data"))
	tree, err := BuildTree([][]byte{leaf[:]})
	if err != nil {
		t.Fatalf("build tree: %v", err)
	}
	if !bytes.Equal(tree.Root(), leaf[:]) {
		t.Errorf("single leaf root mismatch: got %x, want %x", tree.Root(), leaf[:])
	}
	if tree.LeafCount() != 1 {
		t.Errorf("leaf count mismatch: got %d, want 1", tree.LeafCount())
	}
}

func TestBuildTree_TwoLeaves(t *testing.T) {
	leaf1 := sha256.Sum256([]byte("leaf 1"))
	leaf2 := sha256.Sum256([]byte("leaf 2"))

	tree, err := BuildTree([][]byte{leaf1[:], leaf2[:]})
	if err != nil {
		t.Fatalf("build tree: %v", err)
	}

	expectedRoot := hashPair(leaf1[:], leaf2[:])
	if !bytes.Equal(tree.Root(), expectedRoot) {
		t.Errorf("two leaf root mismatch: got %x, want %x", tree.Root(), expectedRoot)
	}
}

func TestBuildTree_OddLeaves(t *testing.T) {
	leaves := make([][]byte, 3)
	for i := range leaves {
		hash := sha256.Sum256([]byte{byte(i)})
		leaves[i] = hash[:]
	}

	tree, err := BuildTree(leaves)
	if err != nil {
		t.Fatalf("build tree with odd leaves: %v", err)
	}
	if tree.LeafCount() != 3 {
		t.Errorf("leaf count mismatch: got %d, want 3", tree.LeafCount())
	}
	if len(tree.Root()) != 32 {
		t.Errorf("root length mismatch: got %d, want 32", len(tree.Root()))
	}
}

func TestGenerateProof_TwoLeaves(t *testing.T) {
	leaf1 := sha256.Sum256([]byte("leaf 1"))
	leaf2 := sha256.Sum256([]byte("leaf 2"))

	tree, err := BuildTree([][]byte{leaf1[:], leaf2[:]})
	if err != nil {
		t.Fatalf("build tree: %v", err)
	}

	proof0, err := tree.GenerateProof(0)
	if err != nil {
		t.Fatalf("generate proof for leaf 0: %v", err)
	}
	if len(proof0.Path) != 1 || proof0.Path[0].Position != Right {
		t.Errorf("leaf 0 proof path mismatch: %+v", proof0.Path)
	}
	valid, err := VerifyProof(leaf1[:], proof0, tree.Root())
	if err != nil || !valid {
		t.Errorf("verify leaf 0 proof: valid=%v err=%v", valid, err)
	}

	proof1, err := tree.GenerateProof(1)
	if err != nil {
		t.Fatalf("generate proof for leaf 1: %v", err)
	}
	if proof1.Path[0].Position != Left {
		t.Errorf("leaf 1 sibling position mismatch: got %s, want left", proof1.Path[0].Position)
	}
	valid, err = VerifyProof(leaf2[:], proof1, tree.Root())
	if err != nil || !valid {
		t.Errorf("verify leaf 1 proof: valid=%v err=%v", valid, err)
	}
}

func TestGenerateProof_FourLeaves(t *testing.T) {
	leaves := make([][]byte, 4)
	for i := range leaves {
		hash := sha256.Sum256([]byte{byte(i)})
		leaves[i] = hash[:]
	}

	tree, err := BuildTree(leaves)
	if err != nil {
		t.Fatalf("build tree: %v", err)
	}

	for i := range leaves {
		proof, err := tree.GenerateProof(i)
		if err != nil {
			t.Fatalf("leaf %d: generate proof: %v", i, err)
		}
		if len(proof.Path) != 2 {
			t.Errorf("leaf %d: proof path length mismatch: got %d, want 2", i, len(proof.Path))
		}
		valid, err := VerifyProof(leaves[i], proof, tree.Root())
		if err != nil || !valid {
			t.Errorf("leaf %d: verify proof: valid=%v err=%v", i, valid, err)
		}
	}
}

func TestGenerateProofByHash(t *testing.T) {
	leaf1 := sha256.Sum256([]byte("leaf 1"))
	leaf2 := sha256.Sum256([]byte("leaf 2"))

	tree, err := BuildTree([][]byte{leaf1[:], leaf2[:]})
	if err != nil {
		t.Fatalf("build tree: %v", err)
	}

	proof, err := tree.GenerateProofByHash(leaf2[:])
	if err != nil {
		t.Fatalf("generate proof by hash: %v", err)
	}
	if proof.LeafIndex != 1 {
		t.Errorf("leaf index mismatch: got %d, want 1", proof.LeafIndex)
	}
	valid, err := VerifyProof(leaf2[:], proof, tree.Root())
	if err != nil || !valid {
		t.Errorf("verify proof: valid=%v err=%v", valid, err)
	}

	if _, err := tree.GenerateProofByHash(sha256.New().Sum(nil)); err != ErrLeafNotFound {
		t.Errorf("expected ErrLeafNotFound for absent leaf, got %v", err)
	}
}

func TestVerifyProof_InvalidProof(t *testing.T) {
	leaf1 := sha256.Sum256([]byte("leaf 1"))
	leaf2 := sha256.Sum256([]byte("leaf 2"))

	tree, err := BuildTree([][]byte{leaf1[:], leaf2[:]})
	if err != nil {
		t.Fatalf("build tree: %v", err)
	}
	proof, err := tree.GenerateProof(0)
	if err != nil {
		t.Fatalf("generate proof: %v", err)
	}

	wrongLeaf := sha256.Sum256([]byte("wrong leaf"))
	if valid, err := VerifyProof(wrongLeaf[:], proof, tree.Root()); err != nil || valid {
		t.Errorf("expected proof to fail for wrong leaf: valid=%v err=%v", valid, err)
	}

	wrongRoot := sha256.Sum256([]byte("wrong root"))
	if valid, err := VerifyProof(leaf1[:], proof, wrongRoot[:]); err != nil || valid {
		t.Errorf("expected proof to fail for wrong root: valid=%v err=%v", valid, err)
	}
}

func TestProofToJSON(t *testing.T) {
	leaves := make([][]byte, 4)
	for i := range leaves {
		hash := sha256.Sum256([]byte{byte(i)})
		leaves[i] = hash[:]
	}
	tree, err := BuildTree(leaves)
	if err != nil {
		t.Fatalf("build tree: %v", err)
	}
	proof, err := tree.GenerateProof(2)
	if err != nil {
		t.Fatalf("generate proof: %v", err)
	}
	data, err := proof.ToJSON()
	if err != nil {
		t.Fatalf("serialize proof: %v", err)
	}
	if len(data) == 0 {
		t.Error("expected non-empty JSON")
	}
}

func TestEmptyTree(t *testing.T) {
	if _, err := BuildTree([][]byte{}); err != ErrEmptyTree {
		t.Errorf("expected ErrEmptyTree, got %v", err)
	}
}

func TestInvalidLeafHash(t *testing.T) {
	if _, err := BuildTree([][]byte{[]byte("not 32 bytes")}); err == nil {
		t.Error("expected error for invalid leaf hash")
	}
}

func TestHashData(t *testing.T) {
	data := []byte("test data")
	hash := HashData(data)
	if len(hash) != 32 {
		t.Errorf("hash length mismatch: got %d, want 32", len(hash))
	}
	if !bytes.Equal(hash, HashData(data)) {
		t.Error("hash is not deterministic")
	}
}
