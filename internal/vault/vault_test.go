package vault

import "testing"

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		key     []byte
		wantErr bool
	}{
		{name: "valid 32-byte key", key: make([]byte, 32), wantErr: false},
		{name: "invalid short key", key: make([]byte, 16), wantErr: true},
		{name: "invalid long key", key: make([]byte, 64), wantErr: true},
		{name: "empty key", key: []byte{}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := New(tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && v == nil {
				t.Error("New() returned nil without error")
			}
		})
	}
}

func TestNewFromPassphrase(t *testing.T) {
	tests := []struct {
		name       string
		passphrase string
		wantErr    bool
	}{
		{name: "valid passphrase", passphrase: "correct-horse-battery-staple", wantErr: false},
		{name: "empty passphrase", passphrase: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := NewFromPassphrase(tt.passphrase)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewFromPassphrase() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && v == nil {
				t.Error("NewFromPassphrase() returned nil without error")
			}
		})
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	v, err := New(make([]byte, 32))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	plaintext := []byte("sk-test-provider-api-key")
	ciphertext, err := v.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	if string(ciphertext) == string(plaintext) {
		t.Error("Encrypt() returned plaintext unchanged")
	}

	got, err := v.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if string(got) != string(plaintext) {
		t.Errorf("Decrypt() = %q, want %q", got, plaintext)
	}
}

func TestDecryptRejectsCorruptCiphertext(t *testing.T) {
	v, err := New(make([]byte, 32))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = v.Decrypt([]byte("not-valid-ciphertext"))
	if err == nil {
		t.Fatal("Decrypt() expected error for corrupt ciphertext, got nil")
	}
}

func TestEncryptRejectsEmptyPlaintext(t *testing.T) {
	v, err := New(make([]byte, 32))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if _, err := v.Encrypt(nil); err == nil {
		t.Fatal("Encrypt() expected error for empty plaintext, got nil")
	}
}
