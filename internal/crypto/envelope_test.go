package crypto

import "testing"

func testKEK() []byte {
	return []byte("01234567890123456789012345678901")
}

func TestSealOpenRoundTrip(t *testing.T) {
	kek := testKEK()
	keys := []string{"sk-one", "sk-two"}

	env, err := Seal(keys, kek)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	if env.V != 1 {
		t.Fatalf("v = %d, want 1", env.V)
	}

	if env.Cipher != cipherName || env.DEKWrap != dekWrapName {
		t.Fatalf("unexpected cipher fields: %+v", env)
	}

	got, err := Open(env, kek)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if len(got) != len(keys) {
		t.Fatalf("round-trip length = %d, want %d", len(got), len(keys))
	}
	for i := range keys {
		if got[i] != keys[i] {
			t.Fatalf("round-trip[%d] = %q, want %q", i, got[i], keys[i])
		}
	}
}

func TestOpenWrongKEKFails(t *testing.T) {
	kek := testKEK()
	other := []byte("99999999999999999999999999999999")

	env, err := Seal([]string{"sk-x"}, kek)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	if _, err := Open(env, other); err == nil {
		t.Fatal("expected error opening with wrong KEK")
	}
}

func TestOpenTamperedCiphertextFails(t *testing.T) {
	kek := testKEK()

	env, err := Seal([]string{"sk-x"}, kek)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	env.Ciphertext = env.Ciphertext[:len(env.Ciphertext)-4] + "abcd"

	if _, err := Open(env, kek); err == nil {
		t.Fatal("expected error opening tampered ciphertext")
	}
}

func TestOpenTamperedWrappedDEKFails(t *testing.T) {
	kek := testKEK()

	env, err := Seal([]string{"sk-x"}, kek)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	env.WrappedDEK = env.WrappedDEK[:len(env.WrappedDEK)-4] + "abcd"

	if _, err := Open(env, kek); err == nil {
		t.Fatal("expected error opening tampered wrapped_dek")
	}
}

func TestOpenRejectsUnknownVersion(t *testing.T) {
	kek := testKEK()

	env, err := Seal([]string{"sk-x"}, kek)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	env.V = 2

	if _, err := Open(env, kek); err == nil {
		t.Fatal("expected error for unsupported version")
	}
}

func TestBadKEKLength(t *testing.T) {
	if _, err := Seal([]string{"sk-x"}, []byte("too-short")); err != ErrBadKEK {
		t.Fatalf("Seal with bad kek = %v, want %v", err, ErrBadKEK)
	}
}

func TestDecryptKeysLegacyPlaintextPassthrough(t *testing.T) {
	kek := testKEK()

	got := DecryptKeys(`["sk-legacy-1","sk-legacy-2"]`, kek)
	if len(got) != 2 || got[0] != "sk-legacy-1" || got[1] != "sk-legacy-2" {
		t.Fatalf("legacy passthrough = %v", got)
	}
}

func TestDecryptKeysCorruptRowYieldsEmpty(t *testing.T) {
	kek := testKEK()

	got := DecryptKeys(`not json at all`, kek)
	if got != nil {
		t.Fatalf("corrupt row should yield nil, got %v", got)
	}
}

func TestEncryptDecryptKeysRoundTrip(t *testing.T) {
	kek := testKEK()
	keys := []string{"sk-a", "sk-b", "sk-c"}

	blob, err := EncryptKeys(keys, kek)
	if err != nil {
		t.Fatalf("EncryptKeys: %v", err)
	}

	got := DecryptKeys(blob, kek)
	if len(got) != len(keys) {
		t.Fatalf("round-trip length = %d, want %d", len(got), len(keys))
	}
}

func TestEncryptUniqueNonces(t *testing.T) {
	kek := testKEK()

	env1, _ := Seal([]string{"same"}, kek)
	env2, _ := Seal([]string{"same"}, kek)

	if env1.Nonce == env2.Nonce {
		t.Fatal("two seals of the same plaintext should use distinct nonces")
	}
	if env1.Ciphertext == env2.Ciphertext {
		t.Fatal("two seals of the same plaintext should produce distinct ciphertext")
	}
}
